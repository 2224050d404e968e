package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure. Each kind maps to a short human
// message surfaced in ArticleError records and the status API.
type ErrorKind string

const (
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindNotFound      ErrorKind = "not_found"
	ErrKindBlocked       ErrorKind = "blocked"
	ErrKindBotProtection ErrorKind = "bot_protection"
	ErrKindReadability   ErrorKind = "readability_failed"
	ErrKindInvalidLLM    ErrorKind = "invalid_llm_response"
	ErrKindTransport     ErrorKind = "transport"
	ErrKindStorage       ErrorKind = "storage"
)

// CrawlError carries a failure kind, the human message for surfacing, and the
// wrapped cause for logs.
type CrawlError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CrawlError) Unwrap() error { return e.Err }

// NewTimeoutError reports a transport timeout.
func NewTimeoutError(err error) *CrawlError {
	return &CrawlError{Kind: ErrKindTimeout, Message: "Failed to reach source (Timeout)", Err: err}
}

// NewNotFoundError reports an HTTP 404.
func NewNotFoundError() *CrawlError {
	return &CrawlError{Kind: ErrKindNotFound, Message: "Article not found (404)"}
}

// NewBlockedError reports a request against a blocked host.
func NewBlockedError(host string) *CrawlError {
	return &CrawlError{Kind: ErrKindBlocked, Message: fmt.Sprintf("Domain blocked: %s", host)}
}

// NewBotProtectionError reports a bot-wall fingerprint hit. The host is
// blocked by the caller; the surfaced message matches the blocked kind.
func NewBotProtectionError(host string) *CrawlError {
	return &CrawlError{Kind: ErrKindBotProtection, Message: fmt.Sprintf("Domain blocked: %s", host)}
}

// NewReadabilityError reports an extraction rejection.
func NewReadabilityError(err error) *CrawlError {
	return &CrawlError{Kind: ErrKindReadability, Message: "Could not extract readable text from page", Err: err}
}

// NewInvalidLLMError reports an unparsable or malformed LLM response.
func NewInvalidLLMError(err error) *CrawlError {
	return &CrawlError{Kind: ErrKindInvalidLLM, Message: "AI returned invalid analysis data", Err: err}
}

// NewTransportError reports any other fetch failure. Status detail is folded
// into the message when derivable.
func NewTransportError(status int, statusText string, err error) *CrawlError {
	msg := "Failed to fetch article"
	if status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d %s)", msg, status, statusText)
	}
	if err != nil {
		msg = fmt.Sprintf("%s [%v]", msg, err)
	}
	return &CrawlError{Kind: ErrKindTransport, Message: msg, Err: err}
}

// NewStorageError reports a store write failure surfaced as the enclosing
// phase's error.
func NewStorageError(err error) *CrawlError {
	return &CrawlError{Kind: ErrKindStorage, Message: fmt.Sprintf("Storage failure: %v", err), Err: err}
}

// KindOf returns the error kind, or ErrKindTransport for untagged errors.
func KindOf(err error) ErrorKind {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindTransport
}

// MessageOf returns the human message, falling back to err.Error().
func MessageOf(err error) string {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
