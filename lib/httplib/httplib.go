/*
Copyright 2025 VISIBLE

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httplib implements common utility functions for writing
// classic HTTP handlers
package httplib

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// HandlerFunc specifies an HTTP handler function that returns the value to
// marshal into the response body
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error)

// MakeHandler returns a new httprouter.Handle func from a handler func.
// A nil result with a nil error means the handler replied by itself.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		if out != nil {
			roundtrip.ReplyJSON(w, http.StatusOK, out)
		}
	}
}

// ReadJSON reads an HTTP json request and unmarshals it
// into the passed object
func ReadJSON(r *http.Request, val interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, &val); err != nil {
		return trace.BadParameter("request: %v", err)
	}
	return nil
}

// maxRequestSize caps an HTTP request body
const maxRequestSize = 64 * 1024

// ErrorToCode maps error types onto HTTP status codes
func ErrorToCode(err error) int {
	switch {
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAccessDenied(err):
		return http.StatusForbidden
	case trace.IsAlreadyExists(err), trace.IsCompareFailed(err):
		return http.StatusConflict
	case trace.IsLimitExceeded(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ReplyError sets up an http error response and writes it to writer w.
// Internal errors are logged and surfaced in opaque form.
func ReplyError(w http.ResponseWriter, err error) {
	code := ErrorToCode(err)
	message := trace.UserMessage(err)
	if code == http.StatusInternalServerError {
		log.WithError(err).Error("Handler returned an internal error.")
		message = "internal server error"
	}
	roundtrip.ReplyJSON(w, code, &ErrorBody{Error: ErrorMessage{Message: message}})
}

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error ErrorMessage `json:"error"`
}

// ErrorMessage carries the human readable part of an error response
type ErrorMessage struct {
	Message string `json:"message"`
}

// OK is a generic success response body
func OK() interface{} {
	return map[string]interface{}{"status": "ok"}
}
