package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"veilnet/core/types"
	"veilnet/crypto"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("VEILNET_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		if len(args) < 2 {
			fatal("Please provide an output key file.")
		}
		generateKey(args[1])
	case "register":
		if len(args) < 2 {
			fatal("Please provide a key file.")
		}
		register(args[1])
	case "state":
		if len(args) < 2 {
			fatal("Please provide an identity fingerprint.")
		}
		getJSON("/v1/identities/" + args[1] + "/state")
	case "seals":
		if len(args) < 2 {
			fatal("Please provide an identity fingerprint.")
		}
		getJSON("/v1/identities/" + args[1] + "/seals")
	case "status":
		if len(args) < 2 {
			fatal("Please provide a transaction ID.")
		}
		getJSON("/v1/transactions/" + args[1])
	case "send":
		if len(args) < 4 {
			fatal("Usage: send <recipient-fingerprint> <amount> <key-file>")
		}
		send(args[1], args[2], args[3])
	case "put-data":
		if len(args) < 4 {
			fatal("Usage: put-data <key> <value> <key-file>")
		}
		putData(args[1], args[2], args[3])
	case "put-sealed":
		if len(args) < 4 {
			fatal("Usage: put-sealed <key> <value> <key-file>")
		}
		putSealed(args[1], args[2], args[3])
	case "reveal":
		if len(args) < 3 {
			fatal("Usage: reveal <tx-id> <key-file>")
		}
		reveal(args[1], args[2])
	case "rotate-seal":
		if len(args) < 3 {
			fatal("Usage: rotate-seal <key-file> <next-key-file>")
		}
		rotateSeal(args[1], args[2])
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
	}
}

// keyFile holds one ed25519 key used both as the identity key and as its
// first seal authority.
type keyFile struct {
	KeyType    string `json:"key_type"`
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Identity   string `json:"identity_fingerprint"`
	SealFP     string `json:"seal_fingerprint"`
	NextNonce  uint64 `json:"next_nonce"`
}

func generateKey(path string) {
	seal, err := crypto.GenerateSeal()
	if err != nil {
		fatal(err.Error())
	}
	pub := seal.PublicKeyBytes()
	kf := keyFile{
		KeyType:    string(crypto.KeyTypeEd25519),
		PrivateKey: base64.StdEncoding.EncodeToString(seal.ExportPrivate()),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		Identity:   crypto.IdentityFingerprint(pub),
		SealFP:     seal.Fingerprint(),
		NextNonce:  1,
	}
	if err := writeKeyFile(path, &kf); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("Identity: %s\nSeal:     %s\nKey written to %s\n", kf.Identity, kf.SealFP, path)
}

func register(path string) {
	kf, _, err := loadKeyFile(path)
	if err != nil {
		fatal(err.Error())
	}
	body := map[string]string{"public_key": kf.PublicKey, "key_type": kf.KeyType}
	if err := post("/v1/identities", body); err != nil {
		fatal(err.Error())
	}
	body = map[string]string{"seal_public_key": kf.PublicKey, "key_type": kf.KeyType}
	if err := post("/v1/identities/"+kf.Identity+"/seals", body); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("Registered %s with seal %s\n", kf.Identity, kf.SealFP)
}

func send(recipient, amount, path string) {
	amt, err := strconv.ParseInt(amount, 10, 64)
	if err != nil || amt <= 0 {
		fatal("amount must be a positive integer")
	}
	submitSigned(path, types.PayloadTokenTransfer, map[string]any{
		types.TransferFieldRecipient: recipient,
		types.TransferFieldAmount:    amt,
	})
}

func putData(key, value, path string) {
	submitSigned(path, types.PayloadData, map[string]any{key: value})
}

func rotateSeal(path, nextPath string) {
	next, err := crypto.GenerateSeal()
	if err != nil {
		fatal(err.Error())
	}
	nextPub := next.PublicKeyBytes()
	submitSigned(path, types.PayloadSealRotation, map[string]any{
		types.RotationFieldNewSealPublicKey: base64.StdEncoding.EncodeToString(nextPub),
	})

	// Rotation swaps the seal only; the identity and nonce stream continue.
	old, _, err := loadKeyFile(path)
	if err != nil {
		fatal(err.Error())
	}
	kf := keyFile{
		KeyType:    string(crypto.KeyTypeEd25519),
		PrivateKey: base64.StdEncoding.EncodeToString(next.ExportPrivate()),
		PublicKey:  base64.StdEncoding.EncodeToString(nextPub),
		Identity:   old.Identity,
		SealFP:     next.Fingerprint(),
		NextNonce:  old.NextNonce,
	}
	if err := writeKeyFile(nextPath, &kf); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("New seal %s written to %s\n", kf.SealFP, nextPath)
}

// putSealed encrypts a single key/value entry under the seal's derived key
// and submits it as an opaque data transaction. Only the seal holder can
// decrypt it later with reveal.
func putSealed(key, value, path string) {
	_, seal, err := loadKeyFile(path)
	if err != nil {
		fatal(err.Error())
	}
	plaintext, err := json.Marshal(map[string]string{key: value})
	if err != nil {
		fatal(err.Error())
	}
	envelope, err := crypto.EncryptPayload(seal.EncryptionKey(), plaintext)
	if err != nil {
		fatal(err.Error())
	}
	payload := types.NewPayload(types.PayloadData, nil)
	payload.EncryptedData = envelope
	submitPayload(path, payload)
}

// reveal fetches a transaction and decrypts its sealed payload with the key
// file's seal.
func reveal(txID, path string) {
	_, seal, err := loadKeyFile(path)
	if err != nil {
		fatal(err.Error())
	}
	raw, err := fetch("/v1/transactions/" + txID)
	if err != nil {
		fatal(err.Error())
	}
	var rec types.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		fatal(err.Error())
	}
	if len(rec.Tx.Payload.EncryptedData) == 0 {
		fatal("transaction has no encrypted payload")
	}
	plaintext, err := crypto.DecryptPayload(seal.EncryptionKey(), rec.Tx.Payload.EncryptedData)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Println(string(plaintext))
}

func submitSigned(path string, payloadType types.PayloadType, data map[string]any) {
	submitPayload(path, types.NewPayload(payloadType, data))
}

func submitPayload(path string, payload types.Payload) {
	kf, seal, err := loadKeyFile(path)
	if err != nil {
		fatal(err.Error())
	}
	tx := &types.Transaction{
		Nonce:           kf.NextNonce,
		Payload:         payload,
		PublicKey:       kf.Identity,
		SealFingerprint: kf.SealFP,
		Version:         types.ProtocolVersion,
	}
	signing, err := tx.SigningBytes()
	if err != nil {
		fatal(err.Error())
	}
	tx.Signature = seal.Sign(signing)

	if err := post("/v1/transactions", tx); err != nil {
		fatal(err.Error())
	}
	kf.NextNonce++
	if err := writeKeyFile(path, kf); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not bump nonce in %s: %v\n", path, err)
	}
}

func loadKeyFile(path string) (*keyFile, *crypto.Seal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	kf := &keyFile{}
	if err := json.Unmarshal(raw, kf); err != nil {
		return nil, nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	priv, err := base64.StdEncoding.DecodeString(kf.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode private key: %w", err)
	}
	seal, err := crypto.SealFromPrivateBytes(priv)
	if err != nil {
		return nil, nil, err
	}
	if kf.NextNonce == 0 {
		kf.NextNonce = 1
	}
	return kf, seal, nil
}

func writeKeyFile(path string, kf *keyFile) error {
	raw, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func post(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	return doRequest(req)
}

func fetch(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, rpcEndpoint+path, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, raw)
	}
	return raw, nil
}

func getJSON(path string) {
	req, err := http.NewRequest(http.MethodGet, rpcEndpoint+path, nil)
	if err != nil {
		fatal(err.Error())
	}
	if err := doRequest(req); err != nil {
		fatal(err.Error())
	}
}

func doRequest(req *http.Request) error {
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := args[:0]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL")
			}
			i++
			rpcEndpoint = strings.TrimRight(args[i], "/")
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimRight(strings.TrimPrefix(arg, "--rpc="), "/")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("VEILNET_RPC_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://localhost:8651"
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "Error: "+msg)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`Usage: veilnet-cli [--rpc <url>] <command> [args]

Commands:
  generate-key <file>                     Generate an identity/seal key pair
  register <key-file>                     Register the identity and its seal
  send <recipient> <amount> <key-file>    Submit a token transfer
  put-data <key> <value> <key-file>       Write a data-store entry
  put-sealed <key> <value> <key-file>     Write an entry encrypted under the seal
  reveal <tx-id> <key-file>               Decrypt a sealed payload
  rotate-seal <key-file> <next-key-file>  Rotate to a freshly generated seal
  state <fingerprint>                     Show identity state
  seals <fingerprint>                     Show active seal authorizations
  status <tx-id>                          Show a transaction record`)
}
