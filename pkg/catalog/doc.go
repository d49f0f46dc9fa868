// Package catalog provides an effective-dated product catalog for the
// entitlement engine.
//
// A catalog is a list of versions. Each version declares products (with their
// category and add-on availability), plans made of timed phases, price lists,
// and the cancel/change policies in force from its effective date. Lookups are
// resolved against the version effective at the requested date, with
// grandfathering for phases of plans that were retired after a subscription
// started.
//
// Catalogs are usually loaded from YAML:
//
//	cat, err := catalog.LoadFile("config/catalog.yaml")
//	if err != nil {
//	    return err
//	}
//	plan, err := cat.FindPlan("pro-monthly", time.Now())
//
// See testdata/catalog.yaml for the document layout.
package catalog
