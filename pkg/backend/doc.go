// Package backend defines the data model shared by the bootcfg resolution engine,
// its provider registry and its callers.
//
// bootcfg picks exactly one concrete backend for each application subsystem
// ("cache", "queue", "storage", "oauth:github", ...) out of a table of candidate
// providers, driven by environment variables, runtime capability probes and
// fallback rules. This package holds the vocabulary of that decision:
//
//   - ProviderDefinition describes one candidate backend and the fields it needs
//   - FieldSpec describes a single typed field read from the environment
//   - SubsystemSpec carries per-subsystem metadata (preference variable,
//     documented default provider, purposes)
//   - ResolutionRequest is one call into the engine
//   - ResolvedConfig is the successful outcome
//   - ResolutionFailure is the structured, recoverable failure outcome
//
// # Selection Model
//
// Candidates of a subsystem are ordered by Priority (lower is preferred). With
// the "auto" preference the first candidate whose capability holds and whose
// required fields are all satisfiable wins. An explicit preference only ever
// considers the named provider; when it is unusable the engine degrades to the
// subsystem's documented default provider, and to nothing else.
//
// # Sensitive Values
//
// Fields of kind secret are held as Secret values. A Secret never prints,
// marshals or logs its plaintext:
//
//	cfg, err := engine.Resolve(ctx, req)
//	if err != nil {
//	    return err
//	}
//	pw, _ := cfg.Secret("password")
//	fmt.Println(pw)         // [REDACTED]
//	plain, err := pw.Reveal()
//
// # Purposes
//
// A purpose (default, _cake_core_, languages, ...) is a second axis next to the
// provider: the same redis connection serves several cache purposes that only
// differ in key prefix or duration. Purposes are declared once per subsystem and
// derived from a ResolvedConfig with ForPurpose instead of multiplying the
// provider table.
package backend
