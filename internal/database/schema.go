package database

// schema is applied in order; parent tables come before the tables that
// reference them.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS benefit_slabs (
		id INTEGER PRIMARY KEY,
		referral_count INTEGER NOT NULL UNIQUE CHECK (referral_count > 0),
		year_fee_benefit_percent REAL NOT NULL CHECK (year_fee_benefit_percent BETWEEN 0 AND 100),
		long_term_extra_percent REAL NOT NULL CHECK (long_term_extra_percent BETWEEN 0 AND 100),
		base_long_term_percent REAL NOT NULL CHECK (base_long_term_percent BETWEEN 0 AND 100)
	)`,
	`CREATE TABLE IF NOT EXISTS fee_records (
		id INTEGER PRIMARY KEY,
		campus_name TEXT NOT NULL,
		grade TEXT NOT NULL,
		academic_year TEXT NOT NULL,
		amount TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS campuses (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		city TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS admins (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		campus_id INTEGER REFERENCES campuses(id)
	)`,
	`CREATE TABLE IF NOT EXISTS ambassadors (
		id INTEGER PRIMARY KEY,
		mobile TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		campus_id INTEGER REFERENCES campuses(id),
		confirmed_referral_count INTEGER NOT NULL DEFAULT 0 CHECK (confirmed_referral_count >= 0),
		year_fee_benefit_percent REAL NOT NULL DEFAULT 0,
		long_term_benefit_percent REAL NOT NULL DEFAULT 0,
		is_five_star_member INTEGER NOT NULL DEFAULT 0,
		student_fee TEXT NOT NULL DEFAULT '0',
		benefit_status TEXT NOT NULL DEFAULT 'Inactive',
		last_active_year INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY,
		ambassador_id INTEGER REFERENCES ambassadors(id),
		campus_id INTEGER REFERENCES campuses(id),
		name TEXT NOT NULL,
		grade TEXT NOT NULL DEFAULT '',
		academic_year TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS leads (
		id INTEGER PRIMARY KEY,
		ambassador_id INTEGER NOT NULL REFERENCES ambassadors(id),
		campus_id INTEGER REFERENCES campuses(id),
		student_name TEXT NOT NULL,
		parent_mobile TEXT NOT NULL,
		grade TEXT NOT NULL DEFAULT '',
		lead_status TEXT NOT NULL,
		confirmed_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK ((lead_status = 'Confirmed') = (confirmed_date IS NOT NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		id INTEGER PRIMARY KEY,
		ambassador_id INTEGER NOT NULL REFERENCES ambassadors(id),
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		bank_reference TEXT NOT NULL DEFAULT '',
		payout_date TEXT,
		remarks TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		processed_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY,
		ambassador_id INTEGER REFERENCES ambassadors(id),
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER PRIMARY KEY,
		ambassador_id INTEGER NOT NULL REFERENCES ambassadors(id),
		campus_id INTEGER REFERENCES campuses(id),
		subject TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		module TEXT NOT NULL,
		target_id TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leads_ambassador_status ON leads(ambassador_id, lead_status)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_ambassador ON settlements(ambassador_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_logs_target ON activity_logs(module, target_id)`,
}
