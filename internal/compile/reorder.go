package compile

// reorder implements spec §4.I compile(order=hashes[]): messages named in
// order appear first, in that sequence; the rest keep their original
// relative order. It also runs the two structural-safety checks, returned
// as non-blocking warnings (spec: "Warnings do not block; callers decide").
func (c *Compiler) reorder(base *CompiledContext, order []string, snap *Snapshot) (*CompiledContext, error) {
	indexOfHash := make(map[string]int, len(snap.Raw))
	for i, r := range snap.Raw {
		indexOfHash[r.CommitHash] = i
	}

	// order may name either a surviving append's own hash, or the hash of
	// an EDIT commit that targets a surviving append (the caller thinks in
	// terms of the commit they wrote, not the append it resolved onto).
	// Translate EDIT hashes in `order` to their target for positioning
	// purposes, while still checking precedence against the original
	// reference.
	orderPos := make(map[string]int, len(order))
	for i, h := range order {
		orderPos[h] = i
	}

	wanted := make(map[string]bool, len(order))
	var newRaw []rawMessage
	seen := make(map[string]bool, len(order))
	for _, h := range order {
		target := h
		if t, isEdit := snap.EditTargets[h]; isEdit {
			target = t
		}
		if i, ok := indexOfHash[target]; ok && !seen[target] {
			newRaw = append(newRaw, snap.Raw[i])
			seen[target] = true
			wanted[target] = true
		}
	}
	for _, r := range snap.Raw {
		if !wanted[r.CommitHash] {
			newRaw = append(newRaw, r)
		}
	}

	messages, total, err := c.aggregateWithTokens(newRaw)
	if err != nil {
		return nil, err
	}

	result := &CompiledContext{
		HeadHash:    base.HeadHash,
		CommitCount: base.CommitCount,
		TokenCount:  total,
		Messages:    messages,
	}
	for _, r := range newRaw {
		result.EffectiveCommitHashes = append(result.EffectiveCommitHashes, r.CommitHash)
		result.GenerationConfigs = append(result.GenerationConfigs, r.GenerationConfig.Clone())
	}
	result.Warnings = structuralWarnings(order, orderPos, snap, indexOfHash)
	return result, nil
}

// structuralWarnings implements spec §4.I's two advisory checks:
//   - edit_before_target: an EDIT commit's hash precedes its target's hash
//     in the order the caller supplied.
//   - response_chain_break: an EDIT commit is named in order but its
//     target is not present in the reordered (surviving) set at all.
func structuralWarnings(order []string, orderPos map[string]int, snap *Snapshot, indexOfHash map[string]int) []Warning {
	var warnings []Warning
	for _, h := range order {
		target, isEdit := snap.EditTargets[h]
		if !isEdit {
			continue
		}
		if _, ok := indexOfHash[target]; !ok {
			warnings = append(warnings, Warning{
				Kind:        "response_chain_break",
				CommitHash:  h,
				Description: "edit " + h + " targets " + target + ", which is not present in the reordered set",
			})
			continue
		}
		targetPos, targetOrdered := orderPos[target]
		editPos := orderPos[h]
		if targetOrdered && editPos < targetPos {
			warnings = append(warnings, Warning{
				Kind:        "edit_before_target",
				CommitHash:  h,
				Description: "edit " + h + " precedes its target " + target + " in the reordered sequence",
			})
		}
	}
	return warnings
}
