package store

import id "trustcore/pkg/domain"

func toID(s string) id.AccountID { return id.AccountID(s) }
