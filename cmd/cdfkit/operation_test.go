package main

import (
	"bytes"
	"crypto/dsa" //nolint:staticcheck // DSA is one of the families under test
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/remiblancher/cdfkit/internal/cdferr"
)

// =============================================================================
// Digest Family Tests
// =============================================================================

func TestF_Hash_KnownVectors(t *testing.T) {
	newTestContext(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"sha256 default", []string{"hash", "616263"}, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"md5 empty", []string{"hash", "--alg", "md5", ""}, "d41d8cd98f00b204e9800998ecf8427e"},
		{"hmac rfc4231 case 2", []string{"hmac", "4a656665", "7768617420646f2079612077616e7420666f72206e6f7468696e673f"},
			"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"},
		{"ctr zero key", []string{"ctr", "00000000000000000000000000000000"}, "66e94bd4ef8a2c3b884cfa59ca342b2e"},
		{"ctr explicit zero key", []string{"ctr", "00000000000000000000000000000000", "00000000000000000000000000000000"},
			"66e94bd4ef8a2c3b884cfa59ca342b2e"},
		{"shake128 empty", []string{"xof", "--len", "8", ""}, "7f9c2ba4e88f827d"},
		{"xof zero length", []string{"xof", "--len", "0", "616263"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(rootCmd, tt.args...)
			assertNoError(t, err)
			assertLines(t, out, tt.want)
		})
	}
}

func TestF_Hash_ArgumentErrors(t *testing.T) {
	newTestContext(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", []string{"hash"}},
		{"too many arguments", []string{"hash", "00", "01"}},
		{"odd hex", []string{"hash", "abc"}},
		{"non hex", []string{"hash", "zz"}},
		{"unknown alg", []string{"hash", "--alg", "sha224", "00"}},
		{"hmac one argument", []string{"hmac", "00"}},
		{"ctr bad key size", []string{"ctr", "0000", "00"}},
		{"xof length over the cap", []string{"xof", "--len", "1048577", "00"}},
		{"xof negative length", []string{"xof", "--len", "-1", "00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(rootCmd, tt.args...)
			assertError(t, err)
			if out != "" {
				t.Errorf("unexpected stdout %q", out)
			}
		})
	}
}

// =============================================================================
// ECDSA Tests
// =============================================================================

func TestF_ECDSA_SignThenVerify(t *testing.T) {
	newTestContext(t)
	x, y, d := generateECDSAKeyPair(t)

	out, err := executeCommand(rootCmd, "ecdsa", x, y, d, "48656c6c6f")
	assertNoError(t, err)
	lines := outputLines(out)
	if len(lines) != 2 || len(lines[0]) != 64 || len(lines[1]) != 64 {
		t.Fatalf("sign output = %q, want two 64-digit lines", lines)
	}

	out, err = executeCommand(rootCmd, "ecdsa", x, y, lines[0], lines[1], "48656c6c6f")
	assertNoError(t, err)
	assertLines(t, out, "true")

	out, err = executeCommand(rootCmd, "ecdsa", x, y, lines[0], lines[1], "48656c6c6e")
	assertNoError(t, err)
	assertLines(t, out, "false")
}

func TestF_ECDSA_Deterministic(t *testing.T) {
	newTestContext(t)
	x, y, d := generateECDSAKeyPair(t)

	first, err := executeCommand(rootCmd, "ecdsa", "--deterministic", x, y, d, "616263")
	assertNoError(t, err)
	second, err := executeCommand(rootCmd, "ecdsa", "--deterministic", x, y, d, "616263")
	assertNoError(t, err)
	if first != second {
		t.Errorf("deterministic signatures differ:\n%s\n%s", first, second)
	}
}

func TestF_ECDSA_PrecomputedDigest(t *testing.T) {
	newTestContext(t)
	x, y, d := generateECDSAKeyPair(t)
	digest := sha256.Sum256([]byte("abc"))

	out, err := executeCommand(rootCmd, "ecdsa", "-h", hex.EncodeToString(digest[:]), x, y, d, "00")
	assertNoError(t, err)
	lines := outputLines(out)
	if len(lines) != 2 {
		t.Fatalf("sign output = %q", lines)
	}

	// the signature covers the supplied digest, i.e. the message "abc"
	out, err = executeCommand(rootCmd, "ecdsa", x, y, lines[0], lines[1], "616263")
	assertNoError(t, err)
	assertLines(t, out, "true")
}

func TestF_ECDSA_DERFormat(t *testing.T) {
	newTestContext(t)
	x, y, d := generateECDSAKeyPair(t)

	out, err := executeCommand(rootCmd, "ecdsa", "--sig-format", "der", x, y, d, "616263")
	assertNoError(t, err)
	lines := outputLines(out)
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "30") {
		t.Fatalf("DER output = %q", lines)
	}

	// sigconv recovers the two fixed-width components
	out, err = executeCommand(rootCmd, "sigconv", "--to", "p1363", "--width", "32", lines[0])
	assertNoError(t, err)
	p1363 := outputLines(out)
	if len(p1363) != 1 || len(p1363[0]) != 128 {
		t.Fatalf("sigconv output = %q", p1363)
	}

	out, err = executeCommand(rootCmd, "ecdsa", x, y, p1363[0][:64], p1363[0][64:], "616263")
	assertNoError(t, err)
	assertLines(t, out, "true")
}

func TestF_ECDSA_InvalidKey(t *testing.T) {
	newTestContext(t)

	// (1, 1) is not on P-256
	_, err := executeCommand(rootCmd, "ecdsa", "01", "01", "01", "616263")
	assertError(t, err)
}

func TestF_ECDSA_FlagOnWrongFamily(t *testing.T) {
	newTestContext(t)

	_, err := executeCommand(rootCmd, "hash", "--deterministic", "00")
	assertError(t, err)
}

// =============================================================================
// DSA Tests
// =============================================================================

func TestF_DSA_SignThenVerify(t *testing.T) {
	newTestContext(t)

	var priv dsa.PrivateKey
	if err := dsa.GenerateParameters(&priv.Parameters, rand.Reader, dsa.L1024N160); err != nil {
		t.Fatalf("Failed to generate DSA parameters: %v", err)
	}
	if err := dsa.GenerateKey(&priv, rand.Reader); err != nil {
		t.Fatalf("Failed to generate DSA key: %v", err)
	}
	h := func(n *big.Int) string { return n.Text(16) }
	p, q, g, y := h(priv.P), h(priv.Q), h(priv.G), h(priv.Y)

	out, err := executeCommand(rootCmd, "dsa", p, q, g, y, h(priv.X), "48656c6c6f")
	assertNoError(t, err)
	lines := outputLines(out)
	if len(lines) != 2 || len(lines[0]) != 40 || len(lines[1]) != 40 {
		t.Fatalf("sign output = %q, want two 40-digit lines", lines)
	}

	out, err = executeCommand(rootCmd, "dsa", p, q, g, y, strings.ToUpper(lines[0]), lines[1], "48656C6C6F")
	assertNoError(t, err)
	assertLines(t, out, "true")

	// the signature was made by this tool; crypto/dsa must accept it too
	r, _ := new(big.Int).SetString(lines[0], 16)
	s, _ := new(big.Int).SetString(lines[1], 16)
	digest := sha256.Sum256([]byte("Hello"))
	if !dsa.Verify(&priv.PublicKey, digest[:20], r, s) {
		t.Error("crypto/dsa rejected the signature")
	}
}

// =============================================================================
// RSA Tests
// =============================================================================

func TestF_OAEP_EncryptThenDecrypt(t *testing.T) {
	newTestContext(t)
	priv := generateRSAKeyPair(t, 2048)
	n := priv.N.Text(16)
	e := big.NewInt(int64(priv.E)).Text(16)
	p, q, d := priv.Primes[0].Text(16), priv.Primes[1].Text(16), priv.D.Text(16)

	out, err := executeCommand(rootCmd, "oaep", n, e, "48656c6c6f")
	assertNoError(t, err)
	cipher := outputLines(out)
	if len(cipher) != 1 || len(cipher[0]) != 512 {
		t.Fatalf("encrypt output = %q", cipher)
	}

	out, err = executeCommand(rootCmd, "oaep", p, q, e, d, cipher[0])
	assertNoError(t, err)
	assertLines(t, out, "48656c6c6f")

	// wrong hash on decrypt fails the padding check
	_, err = executeCommand(rootCmd, "oaep", "--oaep-hash", "sha256", p, q, e, d, cipher[0])
	assertError(t, err)
}

func TestF_OAEP_Label(t *testing.T) {
	newTestContext(t)
	priv := generateRSAKeyPair(t, 2048)
	n := priv.N.Text(16)
	e := big.NewInt(int64(priv.E)).Text(16)
	p, q, d := priv.Primes[0].Text(16), priv.Primes[1].Text(16), priv.D.Text(16)

	out, err := executeCommand(rootCmd, "oaep", "--oaep-hash", "sha256", n, e, "00ff", "6c6162656c")
	assertNoError(t, err)
	cipher := outputLines(out)[0]

	out, err = executeCommand(rootCmd, "oaep", "--oaep-hash", "sha256", p, q, e, d, cipher, "6c6162656c")
	assertNoError(t, err)
	assertLines(t, out, "00ff")

	_, err = executeCommand(rootCmd, "oaep", "--oaep-hash", "sha256", p, q, e, d, cipher)
	assertError(t, err)
}

func TestF_RSASign_SignThenVerify(t *testing.T) {
	newTestContext(t)
	priv := generateRSAKeyPair(t, 2048)
	n := priv.N.Text(16)
	e := big.NewInt(int64(priv.E)).Text(16)
	p, q, d := priv.Primes[0].Text(16), priv.Primes[1].Text(16), priv.D.Text(16)

	out, err := executeCommand(rootCmd, "rsasign", p, q, e, d, "616263")
	assertNoError(t, err)
	sig := outputLines(out)
	if len(sig) != 1 || len(sig[0]) != 512 {
		t.Fatalf("sign output = %q", sig)
	}

	out, err = executeCommand(rootCmd, "rsasign", n, e, sig[0], "616263")
	assertNoError(t, err)
	assertLines(t, out, "true")

	out, err = executeCommand(rootCmd, "rsasign", n, e, sig[0], "616264")
	assertNoError(t, err)
	assertLines(t, out, "false")
}

// =============================================================================
// Global Flag Tests
// =============================================================================

func TestF_Backend_FromEnvironment(t *testing.T) {
	newTestContext(t)
	t.Setenv("CDFKIT_BACKEND", "cose")

	_, err := executeCommand(rootCmd, "hash", "616263")
	if !errors.Is(err, cdferr.ErrUnsupported) {
		t.Errorf("err = %v, want Unsupported", err)
	}

	// the flag wins over the environment
	out, err := executeCommand(rootCmd, "--backend", "go", "hash", "616263")
	assertNoError(t, err)
	assertLines(t, out, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
}

func TestF_Backend_Unknown(t *testing.T) {
	newTestContext(t)

	_, err := executeCommand(rootCmd, "--backend", "openssl", "hash", "00")
	assertError(t, err)
}

func TestF_LogLevel_Invalid(t *testing.T) {
	newTestContext(t)

	_, err := executeCommand(rootCmd, "--log-level", "chatty", "hash", "00")
	assertError(t, err)
}

func TestF_Config_Missing(t *testing.T) {
	tc := newTestContext(t)

	_, err := executeCommand(rootCmd, "--config", tc.path("nope.yaml"), "hash", "00")
	assertError(t, err)
}

// =============================================================================
// Exit Status Tests
// =============================================================================

func TestF_Execute_ErrorMarker(t *testing.T) {
	newTestContext(t)
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	code := execute([]string{"dsa", "01"}, &stdout, &stderr)

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if stdout.String() != "ERROR\n" {
		t.Errorf("stdout = %q, want ERROR", stdout.String())
	}
	if !strings.Contains(stderr.String(), "got 1 arguments") {
		t.Errorf("stderr = %q, want the usage error", stderr.String())
	}
}

func TestF_Execute_ErrorDetailWithLoggingDisabled(t *testing.T) {
	for _, level := range []string{"fatal", "disabled"} {
		t.Run(level, func(t *testing.T) {
			newTestContext(t)
			resetFlags(rootCmd)

			var stdout, stderr bytes.Buffer
			code := execute([]string{"--log-level", level, "hash", "zz"}, &stdout, &stderr)

			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if stdout.String() != "ERROR\n" {
				t.Errorf("stdout = %q, want ERROR", stdout.String())
			}
			if !strings.HasPrefix(stderr.String(), "Error: ") || strings.Count(stderr.String(), "\n") != 1 {
				t.Errorf("stderr = %q, want one error line", stderr.String())
			}
		})
	}
}

func TestF_Execute_Success(t *testing.T) {
	newTestContext(t)
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	code := execute([]string{"hash", "616263"}, &stdout, &stderr)

	if code != 0 {
		t.Errorf("exit code = %d, want 0 (stderr %q)", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "ba7816bf") {
		t.Errorf("stdout = %q", stdout.String())
	}
}
