package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/eldtechnologies/voicerelay/internal/crypto"
)

func main() {
	privOut := flag.String("priv", "", "File to write the private key PEM (stdout if empty)")
	pubOut := flag.String("pub", "", "File to write the public key PEM (stdout if empty)")
	flag.Parse()

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Key generation failed: %v\n", err)
		os.Exit(1)
	}

	pubPEM, err := crypto.PublicKeyPEM(kp.Public)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode public key: %v\n", err)
		os.Exit(1)
	}
	privPEM, err := crypto.PrivateKeyPEM(kp.Private)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode private key: %v\n", err)
		os.Exit(1)
	}

	if err := write(*pubOut, "Public key", pubPEM); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := write(*privOut, "Private key", privPEM); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func write(path, label, pem string) error {
	if path == "" {
		fmt.Printf("%s:\n%s", label, pem)
		return nil
	}
	if err := os.WriteFile(path, []byte(pem), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", label, err)
	}
	fmt.Printf("%s written to %s\n", label, path)
	return nil
}
