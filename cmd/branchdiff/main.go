// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command branchdiff runs the branch comparison service and its client.
//
// Usage:
//
//	branchdiff serve                         # HTTP API + worker
//	branchdiff diff ~/src/app --source dev   # one-shot comparison
//	branchdiff submit ~/src/app --wait       # queue a comparison on a server
//	branchdiff status <id>
//	branchdiff result <id>
//	branchdiff branches ~/src/app
//	branchdiff files ~/src/app --ref main
//
// Example requests against a running server:
//
//	curl -X POST http://127.0.0.1:8087/v1/comparisons \
//	  -H "Content-Type: application/json" \
//	  -d '{"repository_path": "/path/to/repo", "source_branch": "dev"}'
//
//	curl http://127.0.0.1:8087/v1/comparisons/<id>/result | jq
package main

import (
	"errors"
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(CLIExitError)
	}
}
