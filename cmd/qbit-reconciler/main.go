// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := RootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
