// The secondopinion command consults configured language models from the
// terminal and runs the local consultation daemon.
package main

import (
	"fmt"
	"os"

	"github.com/leandrotocalini/SecondOpinion/internal/cli"
	"github.com/leandrotocalini/SecondOpinion/internal/config"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	config.LoadEnv()

	router := newRouter()

	if len(args) == 0 {
		printUsage(router)
		return 2
	}
	switch args[0] {
	case "help", "-h", "--help":
		printUsage(router)
		return 0
	}

	if err := router.Dispatch(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if !router.HasCommand(args[0]) {
			printUsage(router)
		}
		return 1
	}
	return 0
}

func newRouter() *cli.Router {
	router := cli.NewRouter()
	router.Register(&cli.Command{Name: "consult", Description: "Ask the configured models a question", Run: runConsult})
	router.Register(&cli.Command{Name: "serve", Description: "Run the consultation daemon", Run: runServe})
	router.Register(&cli.Command{Name: "doctor", Description: "Probe every configured model", Run: runDoctor})
	router.Register(&cli.Command{Name: "init", Description: "First-time setup wizard", Run: runInit})
	router.Register(&cli.Command{Name: "usage", Description: "Show spend from the usage ledger", Run: runUsage})
	router.Register(&cli.Command{Name: "version", Description: "Print the version", Run: runVersion})
	return router
}

func printUsage(router *cli.Router) {
	fmt.Fprintf(os.Stderr, "usage: secondopinion <command> [flags]\n\n%s", router.Usage())
}

func runVersion(args []string) error {
	fmt.Printf("secondopinion %s\n", version)
	return nil
}
