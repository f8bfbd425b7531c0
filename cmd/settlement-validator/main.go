package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cloudx-io/blindauction/attest"
)

func main() {
	// Define CLI flags
	var (
		evidenceInput = flag.String("evidence", "", "Settlement evidence JSON (file path or inline JSON)")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	// Show help
	if *help {
		showUsage()
		os.Exit(0)
	}

	if *evidenceInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --evidence is required\n")
		os.Exit(1)
	}

	evidenceJSON, err := readJSONInput(*evidenceInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading evidence: %v\n", err)
		os.Exit(2)
	}

	evidence, err := parseEvidence(evidenceJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing evidence: %v\n", err)
		os.Exit(2)
	}

	// Validate using library
	result, userData, err := attest.VerifySettlementReceipt(evidence)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	// Output results
	if *outputFormat == "json" {
		outputJSON(result, userData)
	} else {
		outputText(result, userData)
	}

	// Exit with appropriate code
	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Settlement Receipt Validator")
	fmt.Println()
	fmt.Println("Validates signed auction settlement receipts against the public ledger.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  settlement-validator --evidence <json> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --evidence <json>                 Settlement evidence (receipt + ledger rows)")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Input Format:")
	fmt.Println("  The flag accepts either a file path or an inline JSON string.")
	fmt.Println()
	fmt.Println("Evidence (receipt fields from the settle response, ledger rows from status):")
	fmt.Println("  {")
	fmt.Println("    \"auction_id\": \"spring-sale\",")
	fmt.Println("    \"receipt_cose_base64\": \"hEShATgi...\",")
	fmt.Println("    \"winner\": \"bidder_b\",")
	fmt.Println("    \"winner_index\": 1,")
	fmt.Println("    \"bids\": [")
	fmt.Println("      {\"principal\": \"bidder_a\", \"handle\": \"32:4\", \"submitted_at\": 3},")
	fmt.Println("      {\"principal\": \"bidder_b\", \"handle\": \"32:7\", \"submitted_at\": 5}")
	fmt.Println("    ]")
	fmt.Println("  }")
	fmt.Println()
	fmt.Println("  Bid amounts never appear in the evidence: the receipt commits to the")
	fmt.Println("  ledger through salted hashes of principal, handle, and height only.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Using a saved evidence file")
	fmt.Println("  settlement-validator --evidence settlement_evidence.json")
	fmt.Println()
	fmt.Println("  # Using inline JSON")
	fmt.Println("  settlement-validator \\")
	fmt.Println("    --evidence '{\"auction_id\":\"spring-sale\",\"receipt_cose_base64\":\"...\",\"winner\":\"bidder_b\",\"winner_index\":1,\"bids\":[...]}'")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) ([]byte, error) {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	// Treat as inline JSON
	return []byte(input), nil
}

func parseEvidence(evidenceJSON []byte) (attest.Evidence, error) {
	var evidence attest.Evidence
	if err := json.Unmarshal(evidenceJSON, &evidence); err != nil {
		return attest.Evidence{}, fmt.Errorf("parse evidence: %w", err)
	}
	if evidence.Receipt == "" {
		return attest.Evidence{}, fmt.Errorf("missing or empty 'receipt_cose_base64' in evidence")
	}
	if evidence.AuctionID == "" {
		return attest.Evidence{}, fmt.Errorf("missing or empty 'auction_id' in evidence")
	}
	return evidence, nil
}

func outputText(result *attest.VerificationResult, userData *attest.SettlementUserData) {
	fmt.Println("Settlement Receipt Validator")
	fmt.Println("==================================")
	fmt.Println()

	fmt.Println("Receipt:")
	fmt.Printf("  Auction:                 %s\n", userData.AuctionID)
	fmt.Printf("  Winner:                  %s (index %d)\n", userData.Winner, userData.WinnerIndex)
	fmt.Printf("  Bid Count:               %d\n", userData.BidCount)
	fmt.Printf("  Winning Handle:          %s\n", userData.WinningHandle)
	fmt.Printf("  Settled At Height:       %d\n", userData.SettledAt)
	fmt.Printf("  Signed At:               %s\n", userData.Timestamp)

	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Certificate Valid:       %v\n", result.CertificateValid)
	fmt.Printf("  Bid Hashes Valid:        %v\n", result.BidHashesValid)
	fmt.Printf("  Outcome Valid:           %v\n", result.OutcomeValid)
	fmt.Printf("  Measured Enclave:        %v\n", result.Measured)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("==================================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *attest.VerificationResult, userData *attest.SettlementUserData) {
	output := map[string]any{
		"valid":             result.IsValid(),
		"signature_valid":   result.SignatureValid,
		"certificate_valid": result.CertificateValid,
		"bid_hashes_valid":  result.BidHashesValid,
		"outcome_valid":     result.OutcomeValid,
		"measured":          result.Measured,
		"details":           result.ValidationDetails,
		"receipt": map[string]any{
			"auction_id":     userData.AuctionID,
			"winner":         userData.Winner,
			"winner_index":   userData.WinnerIndex,
			"bid_count":      userData.BidCount,
			"winning_handle": userData.WinningHandle,
			"settled_at":     userData.SettledAt,
			"timestamp":      userData.Timestamp,
		},
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
