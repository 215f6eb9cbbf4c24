package vm

// PageInfo is a read-only snapshot of one page table entry, exposed
// for inspection tooling.
type PageInfo struct {
	Page          uint32 `json:"page"`
	VA            uint32 `json:"va"`
	Perm          string `json:"perm"`
	HasData       bool   `json:"has_data"`
	Modified      bool   `json:"modified"`
	Cached        bool   `json:"cached"`
	BackingOffset uint32 `json:"backing_offset"`
}

// Pages snapshots the whole page table. Purely observational; the VMM
// state does not change.
func (v *VMM) Pages() []PageInfo {
	infos := make([]PageInfo, 0, len(v.pages))
	for i, p := range v.pages {
		infos = append(infos, PageInfo{
			Page:          uint32(i),
			VA:            uint32(i) * PageSize,
			Perm:          p.perm.String(),
			HasData:       p.hasData,
			Modified:      p.modified,
			Cached:        p.cacheSlot != noSlot,
			BackingOffset: p.backingOffset,
		})
	}

	return infos
}
