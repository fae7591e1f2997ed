// Package compatibility decides whether a provider built against one host API
// version can run on another.
//
// # Rules
//
//  1. Major versions must be equal. A different major is a breaking contract.
//  2. With equal majors, the provider's (minor, patch) must be less than or
//     equal to the host's. Providers built against an older host are accepted;
//     providers built against a newer minor or patch are rejected because they
//     may rely on contract additions this host does not have.
//
// Pre-release and build metadata are ignored.
//
// # Usage Example
//
//	res, err := compatibility.Check("2.3.0", "2.5.1")
//	if err != nil {
//		return err
//	}
//	if !res.Compatible {
//		log.Warn(res.Reason)
//	}
package compatibility
