/*
Copyright 2025 Vaultline Authors.

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

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// sweepCommands creates the one-shot sweep command, useful for cron jobs and
// operational runs outside the worker loop.
func sweepCommands(app *appInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep [name]",
		Short: "run one deadline sweep and exit",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			summary, err := app.vaultline.RunSweep(context.Background(), args[0])
			if err != nil {
				log.Fatalf("sweep %s failed: %v", args[0], err)
			}
			fmt.Printf("sweep %s: processed %d, succeeded %d, failed %d\n",
				args[0], summary.Processed, summary.Succeeded, summary.Failed)
			for _, e := range summary.Errors {
				fmt.Println("  -", e)
			}
		},
	}

	return cmd
}
