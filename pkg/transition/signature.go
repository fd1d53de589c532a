package transition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/aretw0/sessionflow/pkg/domain"
)

// Signature computes the deterministic signature of a request. Requests that differ
// only in RequesterID share a signature.
func Signature(req domain.TransitionRequest) domain.Signature {
	d := xxhash.New()
	field := func(s string) {
		_, _ = d.WriteString(strconv.Itoa(len(s)))
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(s)
	}
	list := func(items []string) {
		field(strconv.Itoa(len(items)))
		for _, it := range items {
			field(it)
		}
	}

	field(string(req.Profile))
	list(req.ScenesToLoad)
	list(req.ScenesToUnload)
	field(req.TargetActiveScene)
	field(strconv.FormatBool(req.UseFade))
	field(string(req.ContextSignature))

	return domain.Signature(fmt.Sprintf("%s:%s#%016x", req.Profile, target(req), d.Sum64()))
}

func target(req domain.TransitionRequest) string {
	if req.TargetActiveScene != "" {
		return req.TargetActiveScene
	}
	if len(req.ScenesToLoad) > 0 {
		return req.ScenesToLoad[len(req.ScenesToLoad)-1]
	}
	return "-"
}

// ProfileOf extracts the profile prefix from a signature produced by Signature.
func ProfileOf(sig domain.Signature) domain.Profile {
	p, _, ok := strings.Cut(string(sig), ":")
	if !ok {
		return ""
	}
	return domain.Profile(p)
}
