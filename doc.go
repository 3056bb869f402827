// Package paywall decides who may see paid content and records the money
// that buys access.
//
// paywall is a library first; cmd/paywalld serves it over HTTP. It provides:
//
//   - An entitlement resolver answering "may this viewer see this post?"
//     from subscriptions, one-off purchases and the content's visibility
//   - A monetization gateway for subscriptions, renewals, pay-per-view
//     unlocks, paid messages and tips
//   - An append-only ledger of every monetary event, from which creator
//     earnings are derived
//   - Pluggable stores (memory, PostgreSQL, MongoDB), decision caches
//     (in process, Redis) and payment processors (a simulator and Stripe)
//
// # Quick Start
//
//	store := memory.New()
//	cat := catalog.NewStatic()
//	cat.SetTerms("creator_1", catalog.Terms{Price: paywall.USD(999), Enabled: true})
//
//	engine := paywall.New(store, charge.NewSimulator(), cat)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	sub, err := engine.Subscribe(ctx, "fan_1", "creator_1", time.Now())
//
// # Access
//
// Content carries an owner, a visibility and, when PAID, a price:
//
//	post := content.Post("post_1", "creator_1", content.VisibilityPaid, &price)
//	d, err := engine.Resolve(ctx, "fan_1", post, time.Now())
//	if !d.Granted && d.Reason == entitlement.ReasonLockedPPV {
//	    // offer an unlock for *d.Price
//	}
//
// Owners always see their content. PUBLIC content is visible to everyone,
// including anonymous viewers. SUBSCRIBERS content needs a subscription
// whose expiresAt is still in the future. PAID content needs a purchase or
// an active subscription.
//
// Expiry is computed at read time; nothing sweeps subscriptions on a timer.
// Cancelling keeps access until expiresAt.
//
// # Payments
//
// Every paid operation validates first, then appends a PENDING ledger
// entry, charges the payer with the entry ID as idempotency key, and
// finally completes the entry and writes the entitlement in one store
// transaction. Duplicates are rejected by unique constraints in the store,
// so two concurrent unlocks of the same post charge once.
//
// A charge whose outcome is unknown is looked up before anything is
// decided. If the entitlement cannot be written after a successful charge
// the call fails with a CommitError and the reconciler finishes the entry
// later, or refunds it when a concurrent request won.
//
// # Money
//
// Amounts are integers in the currency's minor unit (cents for USD).
//
// # TypeID
//
// Records use TypeIDs:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41  // Subscription
//	pur_01h455vb4pex5vsknk084sn02q  // Purchase
//	txn_01h455vb4pex5vsknk084sn02q  // Ledger entry
package paywall
