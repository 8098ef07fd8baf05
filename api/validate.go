package api

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/vestio/vestio/authapi"
)

const (
	businessIndividual = "individual"
	businessCompany    = "company"
)

type fieldErrors []authapi.FieldError

func (f *fieldErrors) add(field, msg string) {
	*f = append(*f, authapi.FieldError{Field: field, Message: msg})
}

func checkEmail(f *fieldErrors, email string) {
	switch {
	case email == "":
		f.add("email", "Email is required")
	case !validEmail(email):
		f.add("email", "Email is invalid")
	}
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func checkNewPassword(f *fieldErrors, field, password string) {
	switch {
	case password == "":
		f.add(field, "Password is required")
	case len(password) < minPasswordLen:
		f.add(field, fmt.Sprintf("Password must be at least %d characters", minPasswordLen))
	}
}

func loginFields(email, password string) fieldErrors {
	var f fieldErrors
	checkEmail(&f, email)
	if password == "" {
		f.add("password", "Password is required")
	}
	return f
}

func registrationFields(req authapi.RegisterRequest) fieldErrors {
	var f fieldErrors
	checkEmail(&f, req.Email)
	checkNewPassword(&f, "password", req.Password)
	if strings.TrimSpace(req.FirstName) == "" {
		f.add("firstName", "First name is required")
	}
	if strings.TrimSpace(req.LastName) == "" {
		f.add("lastName", "Last name is required")
	}
	if strings.TrimSpace(req.Phone) == "" {
		f.add("phone", "Phone is required")
	}

	needsName := false
	switch req.Role {
	case authapi.RoleSeller, authapi.RoleAnchor:
		needsName = true
		if req.BusinessType != businessCompany {
			f.add("businessType", "Sellers and anchors must register as a company")
		}
	case authapi.RoleLender:
		needsName = req.BusinessType == businessCompany
		if req.BusinessType != businessCompany && req.BusinessType != businessIndividual {
			f.add("businessType", "Business type must be individual or company")
		}
	default:
		f.add("role", "Role must be seller, lender or anchor")
	}
	if needsName && strings.TrimSpace(req.BusinessName) == "" {
		f.add("businessName", "Business name is required")
	}
	return f
}
