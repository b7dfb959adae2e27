package journal

import (
	"bufio"
	"embed"
	"fmt"
	"strings"
)

//go:embed ddl/*.ddl
var ddlScripts embed.FS

const schemaObjectPrefixVariable = "${schemaObjectPrefix}"

// checkSchema creates the backing tables from the driver-specific DDL
// script when they do not exist yet. The existence check normalizes the
// table name per the backing store's identifier rules.
func (j *DatabaseJournal) checkSchema(driver string) error {
	exists, err := j.tableExists(driver, j.table("JOURNAL"))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	script, err := ddlScripts.ReadFile("ddl/" + driver + ".ddl")
	if err != nil {
		j.log.Info("no store-specific DDL found, falling back to default",
			"driver", driver)
		script, err = ddlScripts.ReadFile("ddl/default.ddl")
		if err != nil {
			return fmt.Errorf("%w: load default DDL: %v", ErrJournal, err)
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(string(script)))
	for scanner.Scan() {
		stmt := strings.TrimSpace(scanner.Text())
		if stmt == "" || strings.HasPrefix(stmt, "#") {
			continue
		}
		stmt = strings.ReplaceAll(stmt, schemaObjectPrefixVariable, j.prefix)
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: bootstrap schema: %v", ErrJournal, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read DDL script: %v", ErrJournal, err)
	}
	return nil
}

// tableExists probes the store's catalog for the table. SQLite stores
// identifiers as written and compares case-insensitively; other stores are
// probed with a cheap select.
func (j *DatabaseJournal) tableExists(driver, name string) (bool, error) {
	if driver == "sqlite" {
		var count int
		row := j.db.QueryRow(
			"select count(*) from sqlite_master where type = 'table' and lower(name) = lower(?)",
			name)
		if err := row.Scan(&count); err != nil {
			return false, fmt.Errorf("%w: check schema: %v", ErrJournal, err)
		}
		return count > 0, nil
	}
	if _, err := j.db.Exec("select 1 from " + name + " where 1 = 0"); err != nil {
		return false, nil
	}
	return true, nil
}
