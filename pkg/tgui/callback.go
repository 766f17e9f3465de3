package tgui

import "strings"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

// Data formats callback data as "scope:action" or "scope:action:payload".
// Payload is kept as-is; callers must keep the full string within
// MaxCallbackDataLen.
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// Split parses callback data produced by Data. ok is false when the input
// does not carry at least "scope:action".
func Split(data string) (scope, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	scope, action = parts[0], parts[1]
	if len(parts) == 3 {
		payload = parts[2]
	}
	return scope, action, payload, true
}
