package forceremove

func (r *ForceRemover) SetUnlocker(unlock func(path string) error) {
	r.unlock = unlock
}

var PlatformUnlock = platformUnlock
