package commands

import "github.com/oklog/ulid/v2"

func generateInstallID() string {
	return ulid.Make().String()
}
