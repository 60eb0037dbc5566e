package models

func allowed[S comparable](targets []S, to S) bool {
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
