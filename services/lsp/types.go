// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"encoding/json"
	"net/url"
	"path/filepath"
)

// =============================================================================
// DOCUMENT IDENTIFIERS
// =============================================================================

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	// URI is the document's URI.
	URI string `json:"uri"`
}

// DidSaveTextDocumentParams is sent with textDocument/didSave.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// PathToURI converts an absolute file path to a file:// URI.
func PathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// =============================================================================
// INITIALIZE
// =============================================================================

// InitializeParams contains parameters for the initialize request.
type InitializeParams struct {
	// ProcessID is the parent process ID.
	ProcessID int `json:"processId"`

	// ClientInfo names the client.
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`

	// RootURI is the workspace root URI.
	RootURI string `json:"rootUri"`

	// RootPath is the workspace root path. Deprecated in LSP but rls reads it.
	RootPath string `json:"rootPath,omitempty"`

	// Capabilities are the client capabilities.
	Capabilities ClientCapabilities `json:"capabilities"`

	// InitializationOptions are server-specific options.
	InitializationOptions interface{} `json:"initializationOptions,omitempty"`

	// WorkspaceFolders are the workspace folders.
	WorkspaceFolders []WorkspaceFolder `json:"workspaceFolders,omitempty"`
}

// ClientInfo identifies the client to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities describes what the client supports.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument,omitempty"`
	Window       WindowClientCapabilities       `json:"window,omitempty"`
}

// TextDocumentClientCapabilities describes text document capabilities.
type TextDocumentClientCapabilities struct {
	Synchronization *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`
}

// TextDocumentSyncClientCapabilities describes sync capabilities.
type TextDocumentSyncClientCapabilities struct {
	DidSave bool `json:"didSave,omitempty"`
}

// WindowClientCapabilities describes window capabilities.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress,omitempty"`
}

// InitializeResult is the response to initialize.
type InitializeResult struct {
	// Capabilities are kept raw; ferrule does not use language features.
	Capabilities json.RawMessage `json:"capabilities"`

	// ServerInfo identifies the server, when provided.
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// =============================================================================
// WINDOW MESSAGES
// =============================================================================

// MessageType is the severity of a window/logMessage or window/showMessage.
type MessageType int

const (
	MessageTypeError   MessageType = 1
	MessageTypeWarning MessageType = 2
	MessageTypeInfo    MessageType = 3
	MessageTypeLog     MessageType = 4
)

// String returns "error", "warning", "info", "log" or "unknown".
func (m MessageType) String() string {
	switch m {
	case MessageTypeError:
		return "error"
	case MessageTypeWarning:
		return "warning"
	case MessageTypeInfo:
		return "info"
	case MessageTypeLog:
		return "log"
	default:
		return "unknown"
	}
}

// LogMessageParams is the payload of window/logMessage and window/showMessage.
type LogMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Window notification methods.
const (
	MethodLogMessage  = "window/logMessage"
	MethodShowMessage = "window/showMessage"
)
