// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "errors"

var (
	// ErrHistoryTooLong is returned when a request carries more history
	// messages than MaxHistoryMessages.
	ErrHistoryTooLong = errors.New("history exceeds maximum message count")

	// ErrMessageTooLarge is returned when a message exceeds
	// MaxMessageContentBytes.
	ErrMessageTooLarge = errors.New("message content exceeds maximum size")
)
