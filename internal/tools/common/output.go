// Package common holds helpers shared by the operator commands.
package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type CIResult struct {
	OK      bool     `json:"ok"`
	Check   string   `json:"check"`
	Details []string `json:"details"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes one JSON line to stdout for machine consumers.
func PrintCIResult(ok bool, check string, details []string, err error) {
	WriteCIResult(os.Stdout, ok, check, details, err)
}

func WriteCIResult(w io.Writer, ok bool, check string, details []string, err error) {
	res := CIResult{OK: ok, Check: check, Details: details}
	if res.Details == nil {
		res.Details = []string{}
	}
	if err != nil {
		res.Error = err.Error()
	}
	b, mErr := json.Marshal(res)
	if mErr != nil {
		_, _ = fmt.Fprintf(w, `{"ok":false,"check":%q,"error":%q}`+"\n", check, mErr.Error())
		return
	}
	_, _ = fmt.Fprintln(w, string(b))
}
