package config

// Resolve folds every job's extends chain into the job itself, in place.
//
// Merge semantics are deliberately explicit rather than a generic deep merge:
// scalars are last-write-wins, lists and maps are replaced wholesale when the
// overriding side sets them at all. A job extending a template with
// `tags = ["a", "b"]` and declaring `tags = ["c"]` therefore ends with
// exactly ["c"].
//
// Ancestors listed in `extends` apply in declaration order (later ancestors
// override earlier ones) and the job's own fields override all ancestors.
// Templates may themselves extend other templates; chains are resolved
// transitively and cycles are rejected.
func Resolve(doc *Document) error {
	resolved := make(map[string]*Job, len(doc.Templates))
	for name, job := range doc.Jobs {
		merged, err := resolveChain(doc, job, resolved)
		if err != nil {
			return err
		}
		merged.Name = name
		doc.Jobs[name] = merged
	}
	return nil
}

// resolveChain produces a fully merged copy of job with its extends applied.
func resolveChain(doc *Document, job *Job, resolved map[string]*Job) (*Job, error) {
	out := &Job{}
	for _, tname := range job.Extends {
		tpl, err := resolveTemplate(doc, job.Name, tname, resolved, map[string]bool{})
		if err != nil {
			return nil, err
		}
		overlay(out, tpl)
	}
	overlay(out, job)
	out.Extends = nil
	return out, nil
}

// resolveTemplate returns the merged form of a template, memoizing results.
// visiting tracks the active chain so that template cycles fail loudly.
func resolveTemplate(doc *Document, forJob, name string, resolved map[string]*Job, visiting map[string]bool) (*Job, error) {
	if t, ok := resolved[name]; ok {
		return t, nil
	}
	if visiting[name] {
		return nil, errf(forJob, "extends", "template inheritance cycle through %q", name)
	}
	tpl, ok := doc.Templates[name]
	if !ok {
		return nil, errf(forJob, "extends", "unknown template %q", name)
	}

	visiting[name] = true
	out := &Job{}
	for _, parent := range tpl.Extends {
		merged, err := resolveTemplate(doc, forJob, parent, resolved, visiting)
		if err != nil {
			return nil, err
		}
		overlay(out, merged)
	}
	overlay(out, tpl)
	out.Extends = nil
	delete(visiting, name)

	resolved[name] = out
	return out, nil
}

// overlay copies every field that src sets onto dst. Scalars replace when
// non-zero, pointers when non-nil, lists and maps wholesale when non-nil.
func overlay(dst, src *Job) {
	if src.Stage != "" {
		dst.Stage = src.Stage
	}
	if src.Image != "" {
		dst.Image = src.Image
	}
	if src.When != "" {
		dst.When = src.When
	}
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
	if src.AllowFailure != nil {
		v := *src.AllowFailure
		dst.AllowFailure = &v
	}

	if src.Script != nil {
		dst.Script = append([]string(nil), src.Script...)
	}
	if src.BeforeScript != nil {
		dst.BeforeScript = append([]string(nil), src.BeforeScript...)
	}
	if src.AfterScript != nil {
		dst.AfterScript = append([]string(nil), src.AfterScript...)
	}
	if src.Tags != nil {
		dst.Tags = append([]string(nil), src.Tags...)
	}
	if src.Needs != nil {
		dst.Needs = append([]string(nil), src.Needs...)
	}
	if src.Extends != nil {
		dst.Extends = append([]string(nil), src.Extends...)
	}

	if src.Variables != nil {
		dst.Variables = make(map[string]string, len(src.Variables))
		for k, v := range src.Variables {
			dst.Variables[k] = v
		}
	}

	if src.Rules != nil {
		dst.Rules = append([]*Rule(nil), src.Rules...)
	}
	if src.Only != nil {
		f := *src.Only
		dst.Only = &f
	}
	if src.Except != nil {
		f := *src.Except
		dst.Except = &f
	}
	if src.Cache != nil {
		c := *src.Cache
		dst.Cache = &c
	}
	if src.Artifacts != nil {
		a := *src.Artifacts
		dst.Artifacts = &a
	}
}
