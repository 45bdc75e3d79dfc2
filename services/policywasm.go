package services

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/domain"
)

const wasmCompileTimeout = 10 * time.Second

// CompileToWASM compiles a policy to a WASM module via the opa toolchain.
// Compilation is best effort: a missing binary, a compile error or a timeout
// all yield nil without an error, and evaluation proceeds on the interpreted
// path.
func (e *PolicyEngine) CompileToWASM(ctx context.Context, p *domain.Policy) []byte {
	rego := policyToRego(p)

	dir, err := os.MkdirTemp("", "policy-wasm-*")
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("wasm compile skipped: tempdir failed")
		return nil
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "policy.rego")
	if err := os.WriteFile(srcPath, []byte(rego), 0o600); err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("wasm compile skipped: source write failed")
		return nil
	}

	bundlePath := filepath.Join(dir, "bundle.tar.gz")
	cctx, cancel := context.WithTimeout(ctx, wasmCompileTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "opa", "build", "-t", "wasm",
		"-e", "policy/allow", "-o", bundlePath, srcPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("output", string(out)).
			Str("policy_id", p.ID).Msg("wasm compile failed, using interpreted evaluation")
		return nil
	}

	wasm, err := extractWASM(bundlePath)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("wasm extract failed, using interpreted evaluation")
		return nil
	}
	return wasm
}

// extractWASM pulls policy.wasm out of an opa bundle tarball.
func extractWASM(bundlePath string) ([]byte, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("bundle contains no wasm module")
		}
		if err != nil {
			return nil, err
		}
		if filepath.Base(hdr.Name) == "policy.wasm" {
			return io.ReadAll(tr)
		}
	}
}

// policyToRego renders a policy as a Rego module with the same allow/deny
// semantics as the interpreted evaluator.
func policyToRego(p *domain.Policy) string {
	var sb strings.Builder
	sb.WriteString("package policy\n\ndefault allow := false\n\n")

	sb.WriteString("allow if {\n")
	sb.WriteString(fmt.Sprintf("\tinput.action in %s\n", regoStringSet(p.Actions)))
	if len(p.Resources) > 0 {
		sb.WriteString("\tsome pattern in ")
		sb.WriteString(regoStringSet(p.Resources))
		sb.WriteString("\n\tglob.match(pattern, [], input.resource)\n")
	}
	if p.Conditions != nil {
		if p.Conditions.MFARequired {
			sb.WriteString("\tinput.context.mfa_verified == \"true\"\n")
		}
		for k, v := range p.Conditions.Attributes {
			sb.WriteString(fmt.Sprintf("\tinput.context[%q] == %q\n", k, v))
		}
		if p.Conditions.IPRange != "" {
			sb.WriteString(fmt.Sprintf("\tnet.cidr_contains(%q, input.context.ip)\n", p.Conditions.IPRange))
		}
	}
	if p.Effect == domain.EffectDeny {
		sb.WriteString("\tfalse\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}

func regoStringSet(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "{" + strings.Join(quoted, ", ") + "}"
}
