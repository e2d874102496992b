// hashpw generates argon2 password hashes for the auth.operators config
// section.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	argon2 "github.com/andskur/argon2-hashing"

	"github.com/quartermile/ledgerd/pkg/config"
)

func main() {
	cfg, loader := config.Loader()

	if err := loader.Load(); err != nil {
		if strings.Contains(err.Error(), "help requested") {
			os.Exit(3)
		}

		panic(err)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read password: %s\n", err)
		os.Exit(1)
	}

	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		fmt.Fprintln(os.Stderr, "Password must not be empty")
		os.Exit(1)
	}

	hash, err := argon2.GenerateFromPassword([]byte(password), (*argon2.Params)(&cfg.Argon2))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash password: %s\n", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}
