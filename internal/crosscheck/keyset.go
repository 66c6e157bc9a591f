package crosscheck

import (
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/cdfkit/internal/codec"
	"github.com/remiblancher/cdfkit/internal/dispatch"
	"github.com/remiblancher/cdfkit/internal/keys"
)

// DSAKeyHex is a DSA key as positional hex arguments.
type DSAKeyHex struct {
	P string `yaml:"p"`
	Q string `yaml:"q"`
	G string `yaml:"g"`
	Y string `yaml:"y"`
	X string `yaml:"x"`
}

// ECDSAKeyHex is a P-256 key as positional hex arguments.
type ECDSAKeyHex struct {
	X string `yaml:"x"`
	Y string `yaml:"y"`
	D string `yaml:"d"`
}

// RSAKeyHex is an RSA key as positional hex arguments.
type RSAKeyHex struct {
	N string `yaml:"n"`
	E string `yaml:"e"`
	D string `yaml:"d"`
	P string `yaml:"p"`
	Q string `yaml:"q"`
}

// KeySet is the key material the sweep batteries run with.
type KeySet struct {
	DSA   DSAKeyHex   `yaml:"dsa"`
	ECDSA ECDSAKeyHex `yaml:"ecdsa"`
	RSA   RSAKeyHex   `yaml:"rsa"`
}

// DefaultKeySet returns a fixed DSA 1024/160 key, a P-256 key and an RSA
// 1024 key with e = 65537.
func DefaultKeySet() *KeySet {
	return &KeySet{
		DSA: DSAKeyHex{
			P: "A9B5B793FB4785793D246BAE77E8FF63CA52F442DA763C440259919FE1BC1D6065A9350637A04F75A2F039401D49F08E066C4D275A5A65DA5684BC563C14289D7AB8A67163BFBF79D85972619AD2CFF55AB0EE77A9002B0EF96293BDD0F42685EBB2C66C327079F6C98000FBCB79AACDE1BC6F9D5C7B1A97E3D9D54ED7951FEF",
			Q: "E1D3391245933D68A0714ED34BBCB7A1F422B9C1",
			G: "634364FC25248933D01D1993ECABD0657CC0CB2CEED7ED2E3E8AECDFCDC4A25C3B15E9E3B163ACA2984B5539181F3EFF1A5E8903D71D5B95DA4F27202B77D2C44B430BB53741A8D59A8F86887525C9F2A6A5980A195EAA7F2FF910064301DEF89D3AA213E1FAC7768D89365318E370AF54A112EFBA9246D9158386BA1B4EEFDA",
			Y: "32969E5780CFE1C849A1C276D7AEB4F38A23B591739AA2FE197349AEEBD31366AEE5EB7E6C6DDB7C57D02432B30DB5AA66D9884299FAA72568944E4EEDC92EA3FBC6F39F53412FBCC563208F7C15B737AC8910DBC2D9C9B8C001E72FDC40EB694AB1F06A5A2DBD18D9E36C66F31F566742F11EC0A52E9F7B89355C02FB5D32D2",
			X: "5078D4D29795CBE76D3AACFE48C9AF0BCDBEE91A",
		},
		ECDSA: ECDSAKeyHex{
			X: "3bac7e95a003264cc075a2ba8d4e949862acd755d49094ad8d28bd0d56299dc6",
			Y: "5c6a5b3810181d82f5eb1be32c9cd8d6c387fcb06fed530d749e3997eb22bd8c",
			D: "8964e19c5ae38669db3047f6b460863f5dc6c4510d3427e33545caf9527aafcf",
		},
		RSA: RSAKeyHex{
			N: "AB9F81FF42B280FE2F2F6A9D167C27247A450241D082B955F7F444789687B805D6F06811B6D09B9B661670F1E4B205753E9167A072F0B8442848F291E0D139D2403F2E1C6F23380C03058D99176CF8A6C7AAAAAF5822FA2B82E9A29888A39FDBA9B3B13DEB47DB15A3731F825454636729DCC6A655C4563C6F1B33CFFDC23D55",
			E: "10001",
			D: "60AD8C17754504F12B3774C165072F2D974B04887AA309306A6B499EFC7D1BA6FE7B92C457CD8FBAAC797BCA67DFF8BF212DDBC840B765B5CF53B88180B99BEDEE66F23EA3A03297E138EAC7E2A0DFDB1E07B4E21C27D3AF2996D16A5050897C9FA32DC0C6ABFFBC6919E8B9D80A6478FCBC71E4D70E70C632B82D64995DE309",
			P: "D29BB20DAE71CA8EA2988DBC5629CA4C830A7F39D031DC45D064F6F8463ACA73E59F999FA1DC5F01199B2EB949EAA08D8277337027C77317B159B96975A86B57",
			Q: "D09CCF3050C82108220DA39DEBA7446758D0061CC046C52C52370A81C7358571E8F1494F49D82B7CB31293FE0E0F15B8200B1EADD1364A5CE60A97ABF3D41D33",
		},
	}
}

// LoadKeySet reads a YAML key set. Sections left out of the file keep the
// default keys. An empty path yields the defaults.
func LoadKeySet(path string) (*KeySet, error) {
	ks := DefaultKeySet()
	if path == "" {
		return ks, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key set: %w", err)
	}
	var loaded KeySet
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}
	if loaded.DSA != (DSAKeyHex{}) {
		ks.DSA = loaded.DSA
	}
	if loaded.ECDSA != (ECDSAKeyHex{}) {
		ks.ECDSA = loaded.ECDSA
	}
	if loaded.RSA != (RSAKeyHex{}) {
		ks.RSA = loaded.RSA
	}

	if _, err := ks.dsaKey(); err != nil {
		return nil, fmt.Errorf("invalid dsa key: %w", err)
	}
	if _, err := ks.ecdsaKey(); err != nil {
		return nil, fmt.Errorf("invalid ecdsa key: %w", err)
	}
	if _, err := ks.rsaKey(); err != nil {
		return nil, fmt.Errorf("invalid rsa key: %w", err)
	}
	return ks, nil
}

func parseAll(hexes ...string) ([]*big.Int, error) {
	out := make([]*big.Int, len(hexes))
	for i, s := range hexes {
		n, err := codec.FromHex(s)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (k *KeySet) dsaKey() (*keys.DSAKey, error) {
	v, err := parseAll(k.DSA.P, k.DSA.Q, k.DSA.G, k.DSA.Y, k.DSA.X)
	if err != nil {
		return nil, err
	}
	return keys.BuildDSA(v[0], v[1], v[2], v[3], v[4])
}

func (k *KeySet) ecdsaKey() (*keys.ECDSAKey, error) {
	v, err := parseAll(k.ECDSA.X, k.ECDSA.Y, k.ECDSA.D)
	if err != nil {
		return nil, err
	}
	return keys.BuildECDSA(v[0], v[1], v[2])
}

func (k *KeySet) rsaKey() (*keys.RSAKey, error) {
	v, err := parseAll(k.RSA.P, k.RSA.Q, k.RSA.E, k.RSA.D)
	if err != nil {
		return nil, err
	}
	return keys.BuildRSAPrivate(v[0], v[1], v[2], v[3])
}

func hexArgs(ns ...*big.Int) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Text(16)
	}
	return out
}

// dsaPublicArgs returns P Q G Y.
func (k *KeySet) dsaPublicArgs() ([]string, error) {
	key, err := k.dsaKey()
	if err != nil {
		return nil, err
	}
	pub := key.Public()
	return hexArgs(pub.P(), pub.Q(), pub.G(), pub.Y()), nil
}

// ecdsaPublicArgs returns X Y.
func (k *KeySet) ecdsaPublicArgs() ([]string, error) {
	key, err := k.ecdsaKey()
	if err != nil {
		return nil, err
	}
	pub := key.Public()
	return hexArgs(pub.X(), pub.Y()), nil
}

// rsaPublicArgs returns N E.
func (k *KeySet) rsaPublicArgs() ([]string, error) {
	key, err := k.rsaKey()
	if err != nil {
		return nil, err
	}
	pub := key.Public()
	return hexArgs(pub.N(), pub.E()), nil
}

// Check inspects the key set itself, independently of any backend: the
// DSA public value must be g^x mod p, the RSA modulus must be p*q and the
// RSA private exponent must not be small enough for Wiener's attack.
func (k *KeySet) Check() []Finding {
	const battery = "keys"
	var findings []Finding
	add := func(name, format string, args ...any) {
		findings = append(findings, Finding{Battery: battery, Case: name, Detail: fmt.Sprintf(format, args...)})
	}

	if key, err := k.dsaKey(); err != nil {
		add("dsa", "%v", err)
	} else if key.Y().Cmp(new(big.Int).Exp(key.G(), key.X(), key.P())) != 0 {
		add("dsa", "Y is not G^X mod P")
	}

	if key, err := k.rsaKey(); err != nil {
		add("rsa", "%v", err)
	} else {
		n, err := codec.FromHex(k.RSA.N)
		if err != nil {
			add("rsa", "%v", err)
		} else if n.Cmp(key.N()) != 0 {
			add("rsa", "N is not P*Q")
		}
		// Wiener: d < n^(1/4) / 3
		bound := new(big.Int).Div(new(big.Int).Sqrt(new(big.Int).Sqrt(key.N())), big.NewInt(3))
		if key.D().Cmp(bound) < 0 {
			add("rsa", "private exponent is small enough for Wiener's attack")
		}
	}
	return findings
}

// CheckFamily returns the Check findings about the key family runs with.
func (k *KeySet) CheckFamily(family dispatch.Family) []Finding {
	var key string
	switch family {
	case dispatch.FamilyDSA:
		key = "dsa"
	case dispatch.FamilyOAEP, dispatch.FamilyRSASign:
		key = "rsa"
	default:
		return nil
	}
	var out []Finding
	for _, f := range k.Check() {
		if f.Case == key {
			out = append(out, f)
		}
	}
	return out
}
