package migrations

func init() {
	Register(Root())
}
