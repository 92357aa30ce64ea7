// Package publisher copies a written catalog and its assets into an object
// store under the canonical job layout and verifies the result.
//
// Three stores are provided: LocalStore writes below a directory, S3Store
// writes to a bucket through the AWS SDK and SFTPStore writes below a remote
// directory over SSH. Every store exposes a Root, an absolute reference that
// doubles as the root for primary asset hrefs in the catalog.
//
// Basic usage:
//
//	store, err := publisher.NewLocalStore("out")
//	if err != nil {
//		return err
//	}
//	pub := publisher.New(store, publisher.Options{})
//	if _, err := pub.Publish(ctx, plan, catalog); err != nil {
//		return err
//	}
//	report, err := pub.Verify(ctx, plan)
package publisher
