// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import "strings"

// ComposeMessage builds the outgoing message text from a subject line
// and a body. Both are trimmed of leading and trailing whitespace.
// With a non-empty subject the result is subject, a blank line, then
// the body; otherwise just the body. Embedded blank lines inside the
// body are preserved. The same composed text goes to every
// destination of an invocation.
func ComposeMessage(subject, body string) string {
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" {
		return body
	}
	return subject + "\n\n" + body
}
