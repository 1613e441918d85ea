// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package hostlink

import (
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

// ReadFrames reads r until it fails and calls fn for every complete SysEx
// frame. Partial frames the splitter discards are logged and skipped.
// io.EOF is reported as a nil error.
func ReadFrames(r io.Reader, maxSize int, log zerolog.Logger, fn func([]byte)) error {
	splitter := sysexconf.NewSplitter(maxSize)
	buf := make([]byte, 256)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			frames, ferr := splitter.Feed(buf[:n])
			if ferr != nil {
				log.Warn().Err(ferr).Msg("discarded malformed input")
			}
			for _, frame := range frames {
				fn(frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
