package main

import (
	"fmt"
	"os"
	"text/template"

	"github.com/keshon/packstore/internal/command"

	_ "github.com/keshon/packstore/internal/command/ancestry"
	_ "github.com/keshon/packstore/internal/command/chain"
	_ "github.com/keshon/packstore/internal/command/help"
	_ "github.com/keshon/packstore/internal/command/info"
	_ "github.com/keshon/packstore/internal/command/list"
	_ "github.com/keshon/packstore/internal/command/missing"
	_ "github.com/keshon/packstore/internal/command/repack"
	_ "github.com/keshon/packstore/internal/command/verify"
)

func main() {
	tplBytes, err := os.ReadFile("README.md.tmpl")
	if err != nil {
		fmt.Printf("Failed to read template: %v\n", err)
		os.Exit(1)
	}

	tpl, err := template.New("readme").Parse(string(tplBytes))
	if err != nil {
		fmt.Printf("Failed to parse template: %v\n", err)
		os.Exit(1)
	}

	sections := ""
	for _, cmd := range command.AllCommands() {
		sections += fmt.Sprintf(
			"### %s\n```\n%s\n%s\n```\n\n",
			cmd.Name(),
			cmd.Usage(),
			cmd.Help(),
		)
	}

	data := map[string]string{
		"CommandSections": sections,
	}

	outFile, err := os.Create("README.md")
	if err != nil {
		fmt.Printf("Failed to create README.md: %v\n", err)
		os.Exit(1)
	}
	defer outFile.Close()

	if err := tpl.Execute(outFile, data); err != nil {
		fmt.Printf("Failed to render template: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("README.md generated successfully")
}
