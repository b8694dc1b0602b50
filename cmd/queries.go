package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// collectQueries gathers queries from args, then the query file, then
// interactive input, in that order.
func collectQueries(args []string, opts crawlOptions, in *bufio.Reader, prompt io.Writer) ([]string, error) {
	queries := make([]string, 0, len(args))
	for _, arg := range args {
		if q := strings.TrimSpace(arg); q != "" {
			queries = append(queries, q)
		}
	}
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return nil, fmt.Errorf("open query file: %w", err)
		}
		defer func() { _ = f.Close() }()
		fromFile, err := readQueryLines(f)
		if err != nil {
			return nil, fmt.Errorf("read query file: %w", err)
		}
		queries = append(queries, fromFile...)
	}
	if opts.interactive {
		typed, err := readInteractive(in, prompt)
		if err != nil {
			return nil, err
		}
		queries = append(queries, typed...)
	}
	return queries, nil
}

// readQueryLines returns every non-blank line of r, trimmed.
func readQueryLines(r io.Reader) ([]string, error) {
	var queries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if q := strings.TrimSpace(scanner.Text()); q != "" {
			queries = append(queries, q)
		}
	}
	return queries, scanner.Err()
}

// readInteractive reads one query per line until two consecutive empty
// lines or EOF. Input after the terminator stays in r.
func readInteractive(r *bufio.Reader, prompt io.Writer) ([]string, error) {
	fmt.Fprintln(prompt, "Enter one search query per line; press enter twice to start.")
	var queries []string
	blanks := 0
	for blanks < 2 {
		fmt.Fprint(prompt, "> ")
		line, err := r.ReadString('\n')
		if q := strings.TrimSpace(line); q != "" {
			queries = append(queries, q)
			blanks = 0
		} else if err == nil {
			blanks++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read queries: %w", err)
		}
	}
	return queries, nil
}
