package main

import (
	"flag"
	"fmt"
	"os"

	"notification-inspector/internal/config"
	"notification-inspector/internal/events"
	"notification-inspector/internal/policy"
)

func main() {
	path := flag.String("f", "", "rules YAML to check (defaults to rules_path from config)")
	pkg := flag.String("package", "", "report what the rules do to a notification from this package")
	flag.Parse()

	if *path == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to load config:", err)
			os.Exit(1)
		}
		*path = cfg.RulesPath
	}

	b, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read rules file:", err)
		os.Exit(1)
	}
	p, err := policy.Parse(b, *path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, r := range p.Rules {
		fmt.Printf("rule %-20s %-8s %s\n", r.ID, r.Action, r.Match)
	}

	if *pkg != "" {
		e, keep := p.Apply(events.Event{Package: *pkg, Title: "title", Body: "body"})
		switch {
		case !keep:
			fmt.Printf("%s: ignored\n", *pkg)
		case e.Title != "title":
			fmt.Printf("%s: redacted\n", *pkg)
		default:
			fmt.Printf("%s: captured\n", *pkg)
		}
	}
}
