package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/forgecloud/grantor"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("grantor-policy - policy file tool for grantor")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  grantor-policy validate <file>                              - Validate a policy file")
	fmt.Println("  grantor-policy stats <file>                                 - Show policy statistics")
	fmt.Println("  grantor-policy check <file> <user> <type> <resource> <act>  - Dry-run an access check")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func loadConfig(path string) *grantor.Config {
	cfg, err := grantor.NewConfigLoader().LoadFile(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: grantor-policy validate <file>")
		os.Exit(1)
	}
	cfg := loadConfig(os.Args[2])
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: %d policies\n", len(cfg.Policies))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: grantor-policy stats <file>")
		os.Exit(1)
	}
	cfg := loadConfig(os.Args[2])
	table, err := cfg.BuildTable(time.Now())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	byType := map[grantor.ResourceType]int{}
	withDeny, withTTL, withConditions := 0, 0, 0
	for i := range cfg.Policies {
		p := &cfg.Policies[i].AccessPolicy
		byType[p.ResourceType]++
		if len(p.DeniedActions) > 0 {
			withDeny++
		}
		if p.TTLSeconds > 0 {
			withTTL++
		}
		if len(p.Conditions) > 0 {
			withConditions++
		}
	}

	fmt.Printf("Policies:        %d defined, %d active\n", len(cfg.Policies), table.Len())
	fmt.Printf("With deny list:  %d\n", withDeny)
	fmt.Printf("With TTL cap:    %d\n", withTTL)
	fmt.Printf("With conditions: %d\n", withConditions)
	fmt.Println("By resource type:")
	for _, rt := range grantor.KnownResourceTypes {
		if n := byType[rt]; n > 0 {
			fmt.Printf("  %-14s %d\n", rt, n)
		}
	}
}

func handleCheck() {
	if len(os.Args) < 7 {
		fmt.Println("Usage: grantor-policy check <file> <user> <type> <resource> <action>")
		os.Exit(1)
	}
	cfg := loadConfig(os.Args[2])
	table, err := cfg.BuildTable(time.Now())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	svc, err := grantor.NewService(table, cfg.ServiceOptions()...)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	req := &grantor.AccessRequest{
		UserID:       os.Args[3],
		ResourceType: grantor.ResourceType(os.Args[4]),
		ResourceID:   os.Args[5],
		Action:       grantor.Action(os.Args[6]),
		Context:      map[string]any{"authenticated": true},
	}
	dec, trace := svc.CheckAccessExplain(context.Background(), req)
	for _, step := range trace {
		fmt.Printf("  %s\n", step)
	}
	if dec.Granted {
		fmt.Printf("GRANT: %s\n", dec.Reason)
	} else {
		fmt.Printf("DENY: %s\n", dec.Reason)
		os.Exit(2)
	}
}
