// Command webdb-shell is a REPL over a WebDB database: type SQL, see rows.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/duckdb-wasm-go/webdbcore/engine"
	"github.com/duckdb-wasm-go/webdbcore/webdb"
)

// CLI is webdb-shell's flag surface: a storage path (empty for in-memory)
// and the emit_bigint toggle passed into the database config. The shell
// prints engine rows directly, so the toggle does not change its output.
var CLI struct {
	Path       string `help:"Database directory (defaults to an in-memory store)" type:"path"`
	EmitBigint bool   `help:"Keep 64-bit integers as-is instead of widening for JS-style clients" default:"true"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("webdb-shell"),
		kong.Description("Interactive SQL shell over a WebDB database"),
		kong.UsageOnError(),
	)

	cfg := struct {
		Path       string `json:"path"`
		EmitBigint bool   `json:"emit_bigint"`
	}{Path: CLI.Path, EmitBigint: CLI.EmitBigint}
	cfgJSON, _ := json.Marshal(cfg)

	ctx := context.Background()
	db, err := webdb.Open(ctx, cfgJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening database: %v\n", err)
		os.Exit(1)
	}
	conn := db.Connect()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("webdb> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			break
		}

		res, err := runAndPrint(ctx, conn, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		_ = res
	}
}

// runAndPrint executes sql directly against the engine so the shell can
// print a human table instead of decoding its own Arrow output.
func runAndPrint(ctx context.Context, conn *webdb.Connection, sql string) (*engine.Result, error) {
	// The shell talks to the engine underneath the connection's Arrow
	// marshalling: RunQuery exists for host callers, but a terminal wants
	// rows, not IPC bytes.
	res, err := conn.RunQueryPlain(ctx, sql)
	if err != nil {
		return nil, err
	}
	printResult(res)
	return res, nil
}

func printResult(res *engine.Result) {
	if len(res.Columns) == 0 {
		fmt.Printf("OK (%d row(s) affected)\n", res.RowsAffected)
		return
	}
	fmt.Println(strings.Join(res.Columns, " | "))
	for _, row := range res.Rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(parts, " | "))
	}
	fmt.Printf("(%d row(s))\n", len(res.Rows))
}
