// ask sends an encrypted Work Order through the relay: fetches the
// recipient's public key, seals the prompt, submits it, and prints the
// message id plus the ephemeral reply key details for this session.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/eldtechnologies/voicerelay/clients/go/voicerelay"
)

func main() {
	relayURL := flag.String("relay", "http://localhost:8080", "Relay base URL")
	credential := flag.String("cred", os.Getenv("RELAY_CREDENTIAL"), "Bearer credential: <scheme>|<owner_id>|<token>")
	topic := flag.String("topic", "", "Work Order topic")
	prompt := flag.String("prompt", "", "Prompt text for the human")
	replyTo := flag.String("reply-to", "", "URL the device should deliver the encrypted reply to")
	flag.Parse()

	if *credential == "" || *prompt == "" || *replyTo == "" {
		fmt.Fprintln(os.Stderr, "Usage: ask -cred '<scheme>|<owner>|<token>' -prompt <text> -reply-to <url> [-topic <topic>] [-relay <url>]")
		os.Exit(1)
	}

	client := voicerelay.NewClient(*relayURL, *credential)

	recipientKey, err := client.GetPublicKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fetch recipient public key: %v\n", err)
		os.Exit(1)
	}

	ask, err := voicerelay.NewAsk(*topic, *prompt, *replyTo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build work order: %v\n", err)
		os.Exit(1)
	}

	blob, err := ask.Seal(recipientKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to seal work order: %v\n", err)
		os.Exit(1)
	}

	resp, err := client.Ask(blob)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Submit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Accepted: %s\n", resp.MessageID)
	fmt.Printf("Blob size: %d bytes\n", len(blob))
	fmt.Println("Keep this process alive to decrypt the reply; the ephemeral key is not persisted.")
}
