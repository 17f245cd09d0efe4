// Package models defines the core data structures for ShiftPipe.
//
// It includes conversations, their context envelope, classifier intents, the
// worker/shift entities the engine reads, delivery receipts and the API
// response envelope, all shared across modules.
package models

import (
	"errors"
	"time"
)

// Sentinel errors shared across modules. Callers wrap them with fmt.Errorf("%w")
// and test with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrWorkerNotFound    = errors.New("worker not found")
	ErrShiftNotFound     = errors.New("shift not found")
	ErrUnknownState      = errors.New("unknown conversation state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidContext    = errors.New("invalid conversation context")
	ErrEmptyRecipient    = errors.New("recipient cannot be empty")
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusQueued indicates the message was accepted by the transport but not yet sent.
	MessageStatusQueued MessageStatus = "queued"
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusUndelivered indicates the carrier could not deliver the message.
	MessageStatusUndelivered MessageStatus = "undelivered"
)

// Receipt records a transport status for an outbound message.
type Receipt struct {
	To          string        `json:"to"`
	Status      MessageStatus `json:"status"`
	TransportID string        `json:"transport_id,omitempty"`
	Time        int64         `json:"time"`
}

// InboundMessage is a text received from a channel address, before canonicalization.
type InboundMessage struct {
	From      string    `json:"from"`
	Body      string    `json:"body"`
	MessageID string    `json:"message_id,omitempty"`
	Time      time.Time `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusQueued indicates the request resulted in an outbound message being queued.
	APIStatusQueued APIStatus = "queued"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}

// Queued creates a response for requests that resulted in an outbound message.
func Queued(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusQueued).WithResult(result).Build()
}
