package decoder

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// fn is one parsed entry of a contract interface.
type fn struct {
	name      string
	signature string // canonical "name(type,type)" form
	selector  []byte // first 4 bytes of keccak256(signature)
	inputs    abi.Arguments
}

// parseInterface parses human-readable function signatures, e.g.
// "transfer(address,uint256)".
func parseInterface(signatures []string) ([]fn, error) {
	fns := make([]fn, 0, len(signatures))
	for _, sig := range signatures {
		parsed, err := parseSignature(sig)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid function signature %q", sig)
		}
		fns = append(fns, *parsed)
	}
	return fns, nil
}

func parseSignature(sig string) (*fn, error) {
	sig = strings.TrimSpace(sig)
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return nil, errors.New("expected name(type,...) form")
	}
	name := strings.TrimSpace(sig[:open])
	inner := sig[open+1 : len(sig)-1]

	var (
		types     []string
		arguments abi.Arguments
	)
	if strings.TrimSpace(inner) != "" {
		for _, t := range strings.Split(inner, ",") {
			t = strings.TrimSpace(t)
			// Tolerate "type argname" fragments from copy-pasted ABIs.
			if idx := strings.IndexByte(t, ' '); idx > 0 {
				t = t[:idx]
			}
			abiType, err := abi.NewType(t, "", nil)
			if err != nil {
				return nil, errors.Wrapf(err, "unsupported parameter type %q", t)
			}
			types = append(types, abiType.String())
			arguments = append(arguments, abi.Argument{Type: abiType})
		}
	}

	canonical := fmt.Sprintf("%s(%s)", name, strings.Join(types, ","))
	return &fn{
		name:      name,
		signature: canonical,
		selector:  ethcrypto.Keccak256([]byte(canonical))[:4],
		inputs:    arguments,
	}, nil
}

// matchSelector returns the interface entry whose derived selector equals the
// actual call data selector, or nil.
func matchSelector(fns []fn, actual []byte) *fn {
	for i := range fns {
		if bytes.Equal(fns[i].selector, actual) {
			return &fns[i]
		}
	}
	return nil
}

// decodeParams unpacks ABI-encoded arguments into display strings.
func (f *fn) decodeParams(data []byte) ([]string, error) {
	if len(f.inputs) == 0 {
		if len(data) != 0 {
			return nil, errors.Errorf("%s takes no parameters but call data has %d extra bytes", f.signature, len(data))
		}
		return nil, nil
	}
	values, err := f.inputs.Unpack(data)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprintf("%v", v))
	}
	return out, nil
}
