package cmd

import (
	"fmt"
	"io"
)

const banner = `
 __     __        _   _
 \ \   / /__  ___| |_(_) ___
  \ \ / / _ \/ __| __| |/ _ \
   \ V /  __/\__ \ |_| | (_) |
    \_/ \___||___/\__|_|\___/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Vestio authority - Version %s\x1b[0m\n\n", Version)
}
