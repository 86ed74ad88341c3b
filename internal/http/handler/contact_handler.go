package handler

import (
	"net/http"

	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
)

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Contact validates a storefront enquiry and acknowledges it. Delivery to the
// dealership inbox is handled outside this service.
func Contact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := fieldErrors{}
	fields.require("name", req.Name)
	fields.maxLen("name", req.Name, 200)
	fields.email("email", req.Email)
	fields.maxLen("phone", req.Phone, 40)
	fields.require("message", req.Message)
	fields.maxLen("message", req.Message, 5000)
	if fields.write(w, r) {
		return
	}
	observability.Audit(r, "contact_received", "email_domain", emailDomain(req.Email))
	response.JSON(w, r, http.StatusAccepted, map[string]bool{"received": true})
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}
