package validation

const (
	createURL   = "credvault://schemas/credential-create.json"
	updateURL   = "credvault://schemas/credential-update.json"
	registerURL = "credvault://schemas/register.json"
	loginURL    = "credvault://schemas/login.json"
)

const credentialCreateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["accountName", "accountUsername", "passwordPlain"],
  "properties": {
    "accountName":     {"type": "string", "minLength": 1, "maxLength": 200},
    "accountUsername": {"type": "string", "minLength": 1, "maxLength": 200},
    "passwordPlain":   {"type": "string", "minLength": 1, "maxLength": 1000}
  },
  "additionalProperties": false
}`

const credentialUpdateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "properties": {
    "accountName":     {"type": "string", "minLength": 1, "maxLength": 200},
    "accountUsername": {"type": "string", "minLength": 1, "maxLength": 200},
    "passwordPlain":   {"type": "string", "minLength": 1, "maxLength": 1000}
  },
  "additionalProperties": false
}`

const registerSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["username", "email", "password"],
  "properties": {
    "username": {"type": "string", "minLength": 3, "maxLength": 50},
    "email":    {"type": "string", "format": "email"},
    "password": {"type": "string", "minLength": 8, "maxLength": 128}
  },
  "additionalProperties": false
}`

const loginSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["email", "password"],
  "properties": {
    "email":    {"type": "string", "format": "email"},
    "password": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`
