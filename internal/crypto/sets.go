package crypto

type PubkeySet map[Pubkey]struct{}

func (set PubkeySet) Add(key Pubkey) {
	set[key] = struct{}{}
}

func (set PubkeySet) Has(key Pubkey) bool {
	_, ok := set[key]
	return ok
}
