package main

// Blank imports register the bookkeeping adapters with the accounting registry.
import (
	_ "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/freshbooks"
	_ "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/quickbooks"
	_ "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/sage"
)
