// Command cloudp2pseed is a standalone offline CLI for mnemonic
// operations: generating a fresh mnemonic, validating one typed in by
// hand, and suggesting completions for a partial word. It never
// touches the network or a running node, so a user can run it on an
// air-gapped machine to produce the mnemonic they later seal into a
// node with cloudp2pd.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"cloudp2p/internal/identity"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "suggest":
		runSuggest(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cloudp2pseed <generate|validate|suggest> [args]")
	fmt.Fprintln(os.Stderr, "  generate -words N      print a fresh N-word mnemonic (12,15,18,21,24)")
	fmt.Fprintln(os.Stderr, "  validate \"<mnemonic>\"  exit 0 if well-formed, 1 otherwise")
	fmt.Fprintln(os.Stderr, "  suggest <prefix>       list wordlist entries starting with prefix")
}

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	words := fs.Int("words", 12, "mnemonic word count: 12, 15, 18, 21, or 24")
	fs.Parse(args)

	m, err := identity.GenerateMnemonic(*words)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println(m)
}

func runValidate(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cloudp2pseed validate \"<mnemonic>\"")
		os.Exit(2)
	}
	mnemonic := strings.Join(args, " ")
	if err := identity.ValidateMnemonic(mnemonic); err != nil {
		fmt.Fprintln(os.Stderr, "invalid:", err)
		os.Exit(1)
	}
	fmt.Println("valid")
}

func runSuggest(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cloudp2pseed suggest <prefix>")
		os.Exit(2)
	}
	for _, w := range identity.SuggestWord(args[0]) {
		fmt.Println(w)
	}
}
