// Command wearablesctl runs the wearables webhook server and its database
// migrations.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
