// Package validation provides request validation helpers for the marketplace API.
package validation

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/money"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var (
	// idRegex matches prefixed entity ids (ctr_..., mst_...)
	idRegex = regexp.MustCompile(`^[a-z]{3}_[a-f0-9]{32}$`)
	// emailRegex is a deliberately loose shape check
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks the prefixed id shape produced by idgen.
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their failures
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// OneOf checks that value is one of the allowed options. Empty passes.
func OneOf(field, value string, options ...string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		for _, o := range options {
			if value == o {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of " + strings.Join(options, ", ")}
	}
}

// ValidEmail checks a loose email shape. Empty passes.
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && !emailRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// ValidAmount checks a positive rupee amount with at most two decimals. Empty passes.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		d, err := money.Parse(value)
		if err != nil {
			return &ValidationError{Field: field, Message: "invalid amount format"}
		}
		if !d.IsPositive() {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// NonNegativeAmount checks an amount that may be zero. Empty passes.
func NonNegativeAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, err := money.Parse(value); err != nil {
			return &ValidationError{Field: field, Message: "invalid amount format"}
		}
		return nil
	}
}

// ValidQuantity checks a positive quantity with at most three decimals. Empty passes.
func ValidQuantity(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		d, err := money.ParseQuantity(value)
		if err != nil {
			return &ValidationError{Field: field, Message: "invalid quantity format"}
		}
		if !d.IsPositive() {
			return &ValidationError{Field: field, Message: "quantity must be greater than zero"}
		}
		return nil
	}
}

// ValidURL checks an absolute http(s) URL. Empty passes.
func ValidURL(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: field, Message: "must be an absolute http(s) URL"}
		}
		return nil
	}
}

// Evidence requires at least one of an update text or an image reference.
func Evidence(updateText, imageURL string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(updateText) == "" && strings.TrimSpace(imageURL) == "" {
			return &ValidationError{Field: "updateText", Message: "an update text or an image is required"}
		}
		return nil
	}
}

// IDParamMiddleware rejects malformed :id URL parameters early.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must be a prefixed identifier (e.g. ctr_ + 32 hex chars)",
			})
			return
		}
		c.Next()
	}
}
