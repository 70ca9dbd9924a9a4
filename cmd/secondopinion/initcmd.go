package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/initwiz"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir, err := config.Dir()
	if err != nil {
		return err
	}

	wiz := initwiz.NewWizard(dir, initwiz.NewTerminalPrompter(os.Stdin, os.Stdout))
	result, err := wiz.Run()
	if err != nil {
		return err
	}

	for _, step := range result.Steps {
		marker := "done"
		if step.Skipped {
			marker = "skip"
		}
		fmt.Printf("  [%s] %s\n", marker, step.Message)
	}
	fmt.Println("\nSetup complete. Try: secondopinion doctor")
	return nil
}
