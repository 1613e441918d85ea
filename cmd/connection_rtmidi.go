// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

//go:build cgo

package cmd

import (
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)
