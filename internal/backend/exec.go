package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/codec"
	"github.com/remiblancher/cdfkit/internal/keys"
)

// execBackend drives an external example program per family using the
// same positional hex contract as cdfkit itself. Program output is
// lower-cased and trimmed before parsing, and short hex is left-padded.
type execBackend struct {
	settings ExecSettings
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

var _ Backend = (*execBackend)(nil)

func newExec(cfg *Config) (Backend, error) {
	if len(cfg.Exec.Programs) == 0 {
		return nil, fmt.Errorf("exec.programs is empty in the backend config")
	}
	return &execBackend{settings: cfg.Exec, command: exec.CommandContext}, nil
}

func (b *execBackend) Name() string { return "exec" }

func (b *execBackend) Close() error { return nil }

func (b *execBackend) Capabilities() []Capability {
	var caps []Capability
	for _, c := range AllCapabilities {
		for family, prog := range b.settings.Programs {
			if prog == "" {
				continue
			}
			if family == string(c) || strings.HasPrefix(family, string(c)+"-") {
				caps = append(caps, c)
				break
			}
		}
	}
	return caps
}

// bareAlgorithm is the algorithm a bare family entry such as "hash" is
// assumed to implement. Any other algorithm needs its own entry.
var bareAlgorithm = map[Capability]string{
	CapHash: string(SHA256),
	CapHMAC: string(SHA256),
	CapXOF:  string(SHAKE128),
}

// program resolves the program for a family, preferring an
// algorithm-specific entry such as "hash-md5". The bare family entry only
// serves the family's default algorithm.
func (b *execBackend) program(op string, c Capability, alg string) (string, error) {
	if alg != "" {
		if prog, ok := b.settings.Program(string(c) + "-" + alg); ok {
			return prog, nil
		}
		if def, ok := bareAlgorithm[c]; ok && alg != def {
			return "", cdferr.New(cdferr.Unsupported, op, "no program configured for %s-%s", c, alg)
		}
	}
	if prog, ok := b.settings.Program(string(c)); ok {
		return prog, nil
	}
	return "", cdferr.New(cdferr.Unsupported, op, "no program configured for %s", c)
}

// run executes prog and returns its normalised standard output.
func (b *execBackend) run(ctx context.Context, op, prog string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.settings.RunTimeout())
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := b.command(ctx, prog, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("program", prog).Str("op", op).Int("args", len(args)).Msg("running external program")
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", cdferr.New(cdferr.PrimitiveFailed, op, "%s timed out after %s", prog, b.settings.RunTimeout())
	}
	out := strings.ToLower(strings.TrimSpace(stdout.String()))
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = out
		}
		return "", cdferr.Wrap(cdferr.PrimitiveFailed, op, fmt.Errorf("%s: %w: %s", prog, err, detail))
	}
	if out == "error" {
		return "", cdferr.New(cdferr.PrimitiveFailed, op, "%s reported an error: %s",
			prog, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func withDigestFlag(d Digest, args ...string) []string {
	if d.Supplied == nil {
		return args
	}
	return append([]string{"-h", codec.Encode(d.Supplied)}, args...)
}

func hexInt(n *big.Int) string { return n.Text(16) }

func parseSignature(op, out string) (codec.Signature, error) {
	lines := strings.Fields(out)
	if len(lines) != 2 {
		return codec.Signature{}, cdferr.New(cdferr.MalformedInput, op,
			"expected r and s on two lines, got %d fields", len(lines))
	}
	r, err := codec.FromHex(lines[0])
	if err != nil {
		return codec.Signature{}, err
	}
	s, err := codec.FromHex(lines[1])
	if err != nil {
		return codec.Signature{}, err
	}
	return codec.Signature{R: r, S: s}, nil
}

func parseVerdict(op, out string) (bool, error) {
	switch out {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, cdferr.New(cdferr.MalformedInput, op, "expected true or false, got %q", out)
	}
}

// parseBytes decodes hex output, restoring a dropped leading nibble and,
// when width is positive, leading zero bytes.
func parseBytes(out string, width int) ([]byte, error) {
	if len(out)%2 == 1 {
		out = "0" + out
	}
	b, err := codec.Decode(out)
	if err != nil {
		return nil, err
	}
	if width > len(b) {
		padded := make([]byte, width)
		copy(padded[width-len(b):], b)
		b = padded
	}
	return b, nil
}

// =============================================================================
// Signatures
// =============================================================================

func (b *execBackend) SignDSA(ctx context.Context, key *keys.DSAKey, d Digest) (codec.Signature, error) {
	const op = "exec dsa sign"
	prog, err := b.program(op, CapDSA, "")
	if err != nil {
		return codec.Signature{}, err
	}
	if !key.HasPrivate() {
		return codec.Signature{}, cdferr.New(cdferr.InvalidKey, op, "private exponent X is required")
	}
	args := withDigestFlag(d, hexInt(key.P()), hexInt(key.Q()), hexInt(key.G()), hexInt(key.Y()),
		hexInt(key.X()), codec.Encode(d.Message))
	out, err := b.run(ctx, op, prog, args)
	if err != nil {
		return codec.Signature{}, err
	}
	return parseSignature(op, out)
}

func (b *execBackend) VerifyDSA(ctx context.Context, key *keys.DSAKey, d Digest, sig codec.Signature) (bool, error) {
	const op = "exec dsa verify"
	prog, err := b.program(op, CapDSA, "")
	if err != nil {
		return false, err
	}
	args := withDigestFlag(d, hexInt(key.P()), hexInt(key.Q()), hexInt(key.G()), hexInt(key.Y()),
		hexInt(sig.R), hexInt(sig.S), codec.Encode(d.Message))
	out, err := b.run(ctx, op, prog, args)
	if err != nil {
		return false, err
	}
	return parseVerdict(op, out)
}

func (b *execBackend) SignECDSA(ctx context.Context, key *keys.ECDSAKey, d Digest, deterministic bool) (codec.Signature, error) {
	const op = "exec ecdsa sign"
	if deterministic {
		return codec.Signature{}, cdferr.New(cdferr.Unsupported, op, "external programs choose their own nonces")
	}
	prog, err := b.program(op, CapECDSA, "")
	if err != nil {
		return codec.Signature{}, err
	}
	if !key.HasPrivate() {
		return codec.Signature{}, cdferr.New(cdferr.InvalidKey, op, "private scalar D is required")
	}
	args := withDigestFlag(d, hexInt(key.X()), hexInt(key.Y()), hexInt(key.D()), codec.Encode(d.Message))
	out, err := b.run(ctx, op, prog, args)
	if err != nil {
		return codec.Signature{}, err
	}
	return parseSignature(op, out)
}

func (b *execBackend) VerifyECDSA(ctx context.Context, key *keys.ECDSAKey, d Digest, sig codec.Signature) (bool, error) {
	const op = "exec ecdsa verify"
	prog, err := b.program(op, CapECDSA, "")
	if err != nil {
		return false, err
	}
	args := withDigestFlag(d, hexInt(key.X()), hexInt(key.Y()), hexInt(sig.R), hexInt(sig.S),
		codec.Encode(d.Message))
	out, err := b.run(ctx, op, prog, args)
	if err != nil {
		return false, err
	}
	return parseVerdict(op, out)
}

// =============================================================================
// RSA
// =============================================================================

func (b *execBackend) EncryptOAEP(ctx context.Context, key *keys.RSAKey, p OAEPParams) ([]byte, error) {
	const op = "exec oaep encrypt"
	if p.Hash != SHA1 {
		return nil, cdferr.New(cdferr.Unsupported, op, "external OAEP programs use sha1")
	}
	prog, err := b.program(op, CapOAEP, "")
	if err != nil {
		return nil, err
	}
	args := []string{hexInt(key.N()), hexInt(key.E()), codec.Encode(p.Input)}
	if p.Label != nil {
		args = append(args, codec.Encode(p.Label))
	}
	out, err := b.run(ctx, op, prog, args)
	if err != nil {
		return nil, err
	}
	return parseBytes(out, key.Width())
}

func (b *execBackend) DecryptOAEP(ctx context.Context, key *keys.RSAKey, p OAEPParams) ([]byte, error) {
	const op = "exec oaep decrypt"
	if p.Hash != SHA1 {
		return nil, cdferr.New(cdferr.Unsupported, op, "external OAEP programs use sha1")
	}
	prog, err := b.program(op, CapOAEP, "")
	if err != nil {
		return nil, err
	}
	if !key.HasPrivate() {
		return nil, cdferr.New(cdferr.InvalidKey, op, "private key is required")
	}
	args := []string{hexInt(key.P()), hexInt(key.Q()), hexInt(key.E()), hexInt(key.D()), codec.Encode(p.Input)}
	if p.Label != nil {
		args = append(args, codec.Encode(p.Label))
	}
	out, err := b.run(ctx, op, prog, args)
	if err != nil {
		return nil, err
	}
	return parseBytes(out, 0)
}

func (b *execBackend) SignPKCS1v15(ctx context.Context, key *keys.RSAKey, d Digest) ([]byte, error) {
	const op = "exec pkcs1v15 sign"
	if d.Hash != SHA256 {
		return nil, cdferr.New(cdferr.Unsupported, op, "external PKCS#1 programs use sha256")
	}
	prog, err := b.program(op, CapRSASign, "")
	if err != nil {
		return nil, err
	}
	if !key.HasPrivate() {
		return nil, cdferr.New(cdferr.InvalidKey, op, "private key is required")
	}
	args := withDigestFlag(d, hexInt(key.P()), hexInt(key.Q()), hexInt(key.E()), hexInt(key.D()),
		codec.Encode(d.Message))
	out, err := b.run(ctx, op, prog, args)
	if err != nil {
		return nil, err
	}
	return parseBytes(out, key.Width())
}

func (b *execBackend) VerifyPKCS1v15(ctx context.Context, key *keys.RSAKey, d Digest, sig []byte) (bool, error) {
	const op = "exec pkcs1v15 verify"
	if d.Hash != SHA256 {
		return false, cdferr.New(cdferr.Unsupported, op, "external PKCS#1 programs use sha256")
	}
	prog, err := b.program(op, CapRSASign, "")
	if err != nil {
		return false, err
	}
	args := withDigestFlag(d, hexInt(key.N()), hexInt(key.E()), codec.Encode(sig), codec.Encode(d.Message))
	out, err := b.run(ctx, op, prog, args)
	if err != nil {
		return false, err
	}
	return parseVerdict(op, out)
}

// =============================================================================
// Symmetric and hashing
// =============================================================================

func (b *execBackend) Hash(ctx context.Context, alg HashAlg, msg []byte) ([]byte, error) {
	const op = "exec hash"
	prog, err := b.program(op, CapHash, string(alg))
	if err != nil {
		return nil, err
	}
	out, err := b.run(ctx, op, prog, []string{codec.Encode(msg)})
	if err != nil {
		return nil, err
	}
	return parseBytes(out, 0)
}

func (b *execBackend) HMAC(ctx context.Context, alg HashAlg, key, msg []byte) ([]byte, error) {
	const op = "exec hmac"
	prog, err := b.program(op, CapHMAC, string(alg))
	if err != nil {
		return nil, err
	}
	out, err := b.run(ctx, op, prog, []string{codec.Encode(key), codec.Encode(msg)})
	if err != nil {
		return nil, err
	}
	return parseBytes(out, 0)
}

func (b *execBackend) CTREncrypt(ctx context.Context, key, plain []byte) ([]byte, error) {
	const op = "exec ctr encrypt"
	prog, err := b.program(op, CapCTR, "")
	if err != nil {
		return nil, err
	}
	out, err := b.run(ctx, op, prog, []string{codec.Encode(key), codec.Encode(plain)})
	if err != nil {
		return nil, err
	}
	return parseBytes(out, len(plain))
}

func (b *execBackend) XOF(ctx context.Context, alg XOFAlg, msg []byte, length int) ([]byte, error) {
	const op = "exec xof"
	prog, err := b.program(op, CapXOF, string(alg))
	if err != nil {
		return nil, err
	}
	out, err := b.run(ctx, op, prog, []string{codec.Encode(msg)})
	if err != nil {
		return nil, err
	}
	stream, err := parseBytes(out, 0)
	if err != nil {
		return nil, err
	}
	if len(stream) < length {
		return nil, cdferr.New(cdferr.PrimitiveFailed, op, "%s produced %d bytes, want %d", prog, len(stream), length)
	}
	return stream[:length], nil
}
