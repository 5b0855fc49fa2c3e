// Package validation checks request bodies against JSON Schemas and converts
// them into service inputs.
package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/atinyakov/credvault/internal/models"
	"github.com/atinyakov/credvault/internal/service"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// aliases maps accepted alternative field names to canonical ones. An alias
// overrides the canonical field when both are present.
var aliases = map[string]string{
	"username": "accountUsername",
	"password": "passwordPlain",
}

// Validator holds the compiled request schemas. It is safe for concurrent use.
type Validator struct {
	create   *jsonschema.Schema
	update   *jsonschema.Schema
	register *jsonschema.Schema
	login    *jsonschema.Schema
}

// New compiles all request schemas.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	v := &Validator{}
	resources := []struct {
		url, doc string
		dst      **jsonschema.Schema
	}{
		{createURL, credentialCreateSchema, &v.create},
		{updateURL, credentialUpdateSchema, &v.update},
		{registerURL, registerSchema, &v.register},
		{loginURL, loginSchema, &v.login},
	}

	for _, r := range resources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(r.doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", r.url, err)
		}
		if err := c.AddResource(r.url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", r.url, err)
		}
	}
	for _, r := range resources {
		compiled, err := c.Compile(r.url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", r.url, err)
		}
		*r.dst = compiled
	}
	return v, nil
}

// decode reads a JSON object from body.
func decode(body io.Reader) (map[string]any, error) {
	doc, err := jsonschema.UnmarshalJSON(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &service.ValidationError{Message: "request body too large"}
		}
		return nil, &service.ValidationError{Message: "request body must be valid JSON"}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &service.ValidationError{Message: `"value" must be of type object`}
	}
	return obj, nil
}

func normalize(obj map[string]any) {
	for alias, canonical := range aliases {
		if v, ok := obj[alias]; ok {
			obj[canonical] = v
			delete(obj, alias)
		}
	}
}

func check(s *jsonschema.Schema, obj map[string]any) error {
	err := s.Validate(obj)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &service.ValidationError{Message: err.Error()}
	}
	return &service.ValidationError{Message: strings.Join(collectViolations(verr), ", ")}
}

// collectViolations walks a ValidationError tree and returns one message per leaf.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, leafMessage(verr))}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

// leafMessage drops the schema URL header the library prepends.
func leafMessage(verr *jsonschema.ValidationError) string {
	lines := strings.Split(strings.TrimSpace(verr.Error()), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	last = strings.TrimPrefix(last, "- ")
	if i := strings.Index(last, ": "); i >= 0 && strings.HasPrefix(last, "at ") {
		last = last[i+2:]
	}
	return last
}

func stringField(obj map[string]any, key string) *string {
	v, ok := obj[key].(string)
	if !ok {
		return nil
	}
	return &v
}

// CredentialInput validates a create body.
func (v *Validator) CredentialInput(body io.Reader) (models.CredentialInput, error) {
	obj, err := decode(body)
	if err != nil {
		return models.CredentialInput{}, err
	}
	normalize(obj)
	if err := check(v.create, obj); err != nil {
		return models.CredentialInput{}, err
	}
	return models.CredentialInput{
		AccountName:     *stringField(obj, "accountName"),
		AccountUsername: *stringField(obj, "accountUsername"),
		PasswordPlain:   *stringField(obj, "passwordPlain"),
	}, nil
}

// CredentialPatch validates an update body. At least one field must be present.
func (v *Validator) CredentialPatch(body io.Reader) (models.CredentialPatch, error) {
	obj, err := decode(body)
	if err != nil {
		return models.CredentialPatch{}, err
	}
	normalize(obj)
	if err := check(v.update, obj); err != nil {
		return models.CredentialPatch{}, err
	}
	return models.CredentialPatch{
		AccountName:     stringField(obj, "accountName"),
		AccountUsername: stringField(obj, "accountUsername"),
		PasswordPlain:   stringField(obj, "passwordPlain"),
	}, nil
}

// Registration validates a register body.
func (v *Validator) Registration(body io.Reader) (service.Registration, error) {
	obj, err := decode(body)
	if err != nil {
		return service.Registration{}, err
	}
	if err := check(v.register, obj); err != nil {
		return service.Registration{}, err
	}
	return service.Registration{
		Username: *stringField(obj, "username"),
		Email:    *stringField(obj, "email"),
		Password: *stringField(obj, "password"),
	}, nil
}

// Login validates a login body and returns the email and password.
func (v *Validator) Login(body io.Reader) (email, password string, err error) {
	obj, err := decode(body)
	if err != nil {
		return "", "", err
	}
	if err := check(v.login, obj); err != nil {
		return "", "", err
	}
	return *stringField(obj, "email"), *stringField(obj, "password"), nil
}
